package assembly

import (
	"fmt"
	"strings"
)

// Format is a downloadable file kind of an assembly, identified by the
// suffix its files carry in the remote directory.
type Format struct {
	Name   string
	Suffix string
}

// FormatAll expands to every known format.
const FormatAll = "all"

// Formats is the known format catalog in its canonical order.
var Formats = []Format{
	{Name: "genbank", Suffix: "_genomic.gbff.gz"},
	{Name: "fasta", Suffix: "_genomic.fna.gz"},
	{Name: "features", Suffix: "_feature_table.txt.gz"},
	{Name: "gff", Suffix: "_genomic.gff.gz"},
	{Name: "protein-fasta", Suffix: "_protein.faa.gz"},
	{Name: "genpept", Suffix: "_protein.gpff.gz"},
	{Name: "wgs", Suffix: "_wgsmaster.gbff.gz"},
	{Name: "cds-fasta", Suffix: "_cds_from_genomic.fna.gz"},
	{Name: "rna-fasta", Suffix: "_rna_from_genomic.fna.gz"},
	{Name: "assembly-report", Suffix: "_assembly_report.txt"},
	{Name: "assembly-stats", Suffix: "_assembly_stats.txt"},
	{Name: "rm", Suffix: "_rm.out.gz"},
	{Name: "translated-cds", Suffix: "_translated_cds.faa.gz"},
}

// LookupFormat returns the format registered under name.
func LookupFormat(name string) (Format, bool) {
	for _, f := range Formats {
		if f.Name == name {
			return f, true
		}
	}

	return Format{}, false
}

// ExpandFormats resolves format names, expanding "all" and dropping
// duplicates while keeping the first occurrence order.
func ExpandFormats(names []string) ([]Format, error) {
	if len(names) == 0 {
		return nil, &ConfigurationError{Option: "formats", Reason: "at least one format is required"}
	}

	for _, n := range names {
		if n == FormatAll {
			return append([]Format(nil), Formats...), nil
		}
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]Format, 0, len(names))

	for _, n := range names {
		n = strings.TrimSpace(n)

		f, ok := LookupFormat(n)
		if !ok {
			return nil, &ConfigurationError{Option: "formats", Reason: fmt.Sprintf("unsupported format %q", n)}
		}

		if _, dup := seen[f.Name]; dup {
			continue
		}

		seen[f.Name] = struct{}{}
		out = append(out, f)
	}

	return out, nil
}

// Matches reports whether filename is the file of this format. Plain
// genomic fasta must not match the cds/rna "_from_genomic" variants that
// share its suffix.
func (f Format) Matches(filename string) bool {
	if !strings.HasSuffix(filename, f.Suffix) {
		return false
	}

	if !strings.Contains(f.Suffix, "_from_") && strings.Contains(filename, "_from_") {
		return false
	}

	return true
}
