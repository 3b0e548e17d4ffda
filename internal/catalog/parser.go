package catalog

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

const headerMarker = "assembly_accession"

var requiredColumns = []string{
	"assembly_accession",
	"taxid",
	"species_taxid",
	"organism_name",
	"assembly_level",
	"refseq_category",
	"ftp_path",
}

// Parse turns a catalog snapshot into records in document order.
//
// Comment lines before the header are skipped. A comment whose text starts
// with the assembly_accession column name is the header itself; otherwise
// the first non-comment line is. Columns are bound by header name so new
// optional columns appended upstream are tolerated.
func Parse(cat *Catalog) ([]assembly.Record, error) {
	if cat.parsed {
		return cat.records, nil
	}

	return parse(cat)
}

func parse(cat *Catalog) ([]assembly.Record, error) {
	parseErr := func(line int, format string, args ...any) error {
		return &assembly.ParseError{
			Section: cat.Key.Section,
			Group:   cat.Key.Group,
			Line:    line,
			Reason:  fmt.Sprintf(format, args...),
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(cat.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		header []string
		lineNo int
	)

	for header == nil && scanner.Scan() {
		lineNo++

		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, "#"):
			text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if strings.HasPrefix(text, headerMarker) {
				header = strings.Split(text, "\t")
			}
		case strings.TrimSpace(line) != "":
			header = strings.Split(line, "\t")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &assembly.ParseError{Section: cat.Key.Section, Group: cat.Key.Group, Reason: "read header", Err: err}
	}

	if header == nil {
		return nil, parseErr(0, "missing header row")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			return nil, parseErr(lineNo, "missing required column %q", name)
		}
	}

	var (
		records []assembly.Record
		seen    = make(map[string]int)
	)

	for scanner.Scan() {
		lineNo++

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != len(header) {
			return nil, parseErr(lineNo, "expected %d fields, got %d", len(header), len(fields))
		}

		rec, err := buildRecord(header, index, fields)
		if err != nil {
			return nil, parseErr(lineNo, "%v", err)
		}

		if first, dup := seen[rec.Accession]; dup {
			return nil, parseErr(lineNo, "duplicate accession %s (first seen at line %d)", rec.Accession, first)
		}

		seen[rec.Accession] = lineNo
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, &assembly.ParseError{Section: cat.Key.Section, Group: cat.Key.Group, Line: lineNo, Reason: "read rows", Err: err}
	}

	return records, nil
}

func buildRecord(header []string, index map[string]int, fields []string) (assembly.Record, error) {
	columns := make(map[string]string, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = fields[i]
	}

	get := func(name string) string {
		if i, ok := index[name]; ok {
			return strings.TrimSpace(fields[i])
		}

		return ""
	}

	rec := assembly.Record{
		Accession:         get("assembly_accession"),
		OrganismName:      get("organism_name"),
		InfraspecificName: get("infraspecific_name"),
		Isolate:           get("isolate"),
		AsmName:           get("asm_name"),
		RawLevel:          get("assembly_level"),
		RawRefseqCategory: get("refseq_category"),
		TypeMaterial:      get("relation_to_type_material"),
		FTPPath:           get("ftp_path"),
		Columns:           columns,
	}

	if rec.Accession == "" {
		return rec, fmt.Errorf("empty assembly_accession")
	}

	var err error

	if rec.TaxID, err = strconv.ParseInt(get("taxid"), 10, 64); err != nil {
		return rec, fmt.Errorf("invalid taxid %q", get("taxid"))
	}

	if rec.SpeciesTaxID, err = strconv.ParseInt(get("species_taxid"), 10, 64); err != nil {
		return rec, fmt.Errorf("invalid species_taxid %q", get("species_taxid"))
	}

	// Unknown enum values stay raw and never match an enum filter.
	if lvl, ok := assembly.ParseLevel(rec.RawLevel); ok {
		rec.Level = lvl
	}

	if cat, ok := assembly.ParseRefseqCategory(rec.RawRefseqCategory); ok {
		rec.RefseqCategory = cat
	}

	if raw := get("seq_rel_date"); raw != "" {
		if ts, err := time.Parse("2006/01/02", raw); err == nil {
			rec.LastModified = ts
		}
	}

	return rec, nil
}
