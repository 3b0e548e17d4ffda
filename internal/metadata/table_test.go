package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

func record(acc, organism string) assembly.Record {
	return assembly.Record{
		Accession:    acc,
		OrganismName: organism,
		Columns: map[string]string{
			"assembly_accession": acc,
			"organism_name":      organism,
			"taxid":              "562",
			"refseq_category":    "reference genome",
			"ftp_path":           "https://ftp.ncbi.nlm.nih.gov/genomes/all/" + acc,
		},
	}
}

func readLines(t *testing.T, path string) [][]string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines [][]string
	for _, l := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		lines = append(lines, strings.Split(l, "\t"))
	}

	return lines
}

func TestWrite(t *testing.T) {
	out := t.TempDir()
	table := filepath.Join(out, "metadata.tsv")

	rows := []Row{
		{Record: record("GCF_1.1", "Escherichia coli"), LocalPath: filepath.Join(out, "refseq", "bacteria", "GCF_1.1", "a.fna.gz")},
		{Record: record("GCF_2.1", "Escherichia\tcoli"), LocalPath: "/elsewhere/b.gbff.gz"},
	}

	require.NoError(t, Write(table, rows))

	lines := readLines(t, table)
	require.Len(t, lines, 3)

	assert.Equal(t, Columns, lines[0])
	assert.Len(t, Columns, 23)

	for _, l := range lines {
		assert.Len(t, l, len(Columns), "every line has every column")
	}

	idx := func(col string) int {
		for i, c := range Columns {
			if c == col {
				return i
			}
		}

		t.Fatalf("no column %s", col)

		return -1
	}

	assert.Equal(t, "GCF_1.1", lines[1][idx("assembly_accession")])
	assert.Equal(t, "562", lines[1][idx("taxid")])
	assert.Empty(t, lines[1][idx("bioproject")])
	assert.Equal(t, "./refseq/bacteria/GCF_1.1/a.fna.gz", lines[1][idx(LocalFilenameColumn)])

	assert.Equal(t, "Escherichia coli", lines[2][idx("organism_name")])
	assert.Equal(t, "/elsewhere/b.gbff.gz", lines[2][idx(LocalFilenameColumn)])
}

func TestWrite_ReplacesExistingTable(t *testing.T) {
	table := filepath.Join(t.TempDir(), "nested", "metadata.tsv")

	require.NoError(t, Write(table, []Row{{Record: record("GCF_1.1", "A b"), LocalPath: "x"}}))
	require.NoError(t, Write(table, nil))

	lines := readLines(t, table)
	assert.Len(t, lines, 1, "header only")

	entries, err := os.ReadDir(filepath.Dir(table))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWrite_UnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := Write(filepath.Join(blocker, "metadata.tsv"), nil)
	assert.Error(t, err)
}
