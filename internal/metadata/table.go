// Package metadata writes the tab separated table describing every file a
// run fetched or found up to date.
package metadata

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

// LocalFilenameColumn holds the file path relative to the table.
const LocalFilenameColumn = "local_filename"

// Columns is the table header, in order.
var Columns = []string{
	"assembly_accession",
	"bioproject",
	"biosample",
	"wgs_master",
	"excluded_from_refseq",
	"refseq_category",
	"relation_to_type_material",
	"taxid",
	"species_taxid",
	"organism_name",
	"infraspecific_name",
	"isolate",
	"version_status",
	"assembly_level",
	"release_type",
	"genome_rep",
	"seq_rel_date",
	"asm_name",
	"submitter",
	"gbrs_paired_asm",
	"paired_asm_comp",
	"ftp_path",
	LocalFilenameColumn,
}

// Row is one table line.
type Row struct {
	Record    assembly.Record
	LocalPath string
}

// Write replaces the table at path with rows. The table is written to a
// temp file next to path and renamed into place.
func Write(path string, rows []Row) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata table directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata table: %w", err)
	}

	defer os.Remove(tmp.Name()) // no-op after the rename

	w := bufio.NewWriter(tmp)

	writeLine(w, Columns)

	for _, r := range rows {
		writeLine(w, line(r, dir))
	}

	if err := w.Flush(); err != nil {
		tmp.Close()

		return fmt.Errorf("write metadata table: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metadata table: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace metadata table: %w", err)
	}

	return nil
}

func line(r Row, tableDir string) []string {
	fields := make([]string, len(Columns))

	for i, c := range Columns {
		if c == LocalFilenameColumn {
			fields[i] = localFilename(r.LocalPath, tableDir)

			continue
		}

		fields[i] = r.Record.Columns[c]
	}

	return fields
}

func localFilename(path, tableDir string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	absDir, err := filepath.Abs(tableDir)
	if err != nil {
		return absPath
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return absPath
	}

	return "./" + filepath.ToSlash(rel)
}

var fieldReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func writeLine(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte('\t')
		}

		w.WriteString(fieldReplacer.Replace(f))
	}

	w.WriteByte('\n')
}
