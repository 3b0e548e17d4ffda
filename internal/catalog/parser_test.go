package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

var testColumns = []string{
	"assembly_accession", "refseq_category", "taxid", "species_taxid", "organism_name",
	"infraspecific_name", "isolate", "assembly_level", "seq_rel_date", "asm_name",
	"ftp_path", "relation_to_type_material",
}

func summary(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func row(fields ...string) string {
	return strings.Join(fields, "\t")
}

func newCatalog(content string) *Catalog {
	return &Catalog{Key: Key{Section: "refseq", Group: "bacteria"}, Content: content}
}

func TestParse_NCBILayout(t *testing.T) {
	content := summary(
		"##   See ftp://ftp.ncbi.nlm.nih.gov/genomes/README_assembly_summary.txt for a description of the columns",
		"# "+row(testColumns...),
		row("GCF_000005845.2", "reference genome", "511145", "562", "Escherichia coli str. K-12 substr. MG1655",
			"strain=K-12 substr. MG1655", "", "Complete Genome", "2013/09/26", "ASM584v2",
			"ftp://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/005/845/GCF_000005845.2_ASM584v2", "assembly from type material"),
		row("GCF_000203835.1", "representative genome", "100226", "1902", "Streptomyces coelicolor A3(2)",
			"strain=A3(2)", "", "Chromosome", "2002/05/10", "ASM20383v1",
			"https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/203/835/GCF_000203835.1_ASM20383v1", ""),
	)

	records, err := Parse(newCatalog(content))
	require.NoError(t, err)
	require.Len(t, records, 2)

	ecoli := records[0]
	assert.Equal(t, "GCF_000005845.2", ecoli.Accession)
	assert.Equal(t, int64(511145), ecoli.TaxID)
	assert.Equal(t, int64(562), ecoli.SpeciesTaxID)
	assert.Equal(t, assembly.LevelComplete, ecoli.Level)
	assert.Equal(t, assembly.CategoryReference, ecoli.RefseqCategory)
	assert.Equal(t, "assembly from type material", ecoli.TypeMaterial)
	assert.Equal(t, time.Date(2013, 9, 26, 0, 0, 0, 0, time.UTC), ecoli.LastModified)
	assert.Equal(t, "https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/005/845/GCF_000005845.2_ASM584v2", ecoli.BaseURL())
	assert.Equal(t, "ASM584v2", ecoli.Columns["asm_name"])

	scoe := records[1]
	assert.Equal(t, assembly.LevelChromosome, scoe.Level)
	assert.False(t, scoe.HasTypeMaterial())
}

func TestParse_FirstNonCommentLineIsHeader(t *testing.T) {
	content := summary(
		"# generated for tests",
		row("assembly_accession", "taxid", "species_taxid", "organism_name", "assembly_level", "refseq_category", "ftp_path", "brand_new_column"),
		row("GCA_1.1", "1", "1", "Foo bar", "Contig", "na", "na", "whatever"),
	)

	records, err := Parse(newCatalog(content))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, assembly.LevelContig, rec.Level)
	assert.Equal(t, assembly.CategoryNA, rec.RefseqCategory)
	assert.Empty(t, rec.TypeMaterial)
	assert.Empty(t, rec.InfraspecificName)
	assert.False(t, rec.Downloadable())
	assert.Equal(t, "whatever", rec.Columns["brand_new_column"])
}

func TestParse_UnknownEnumsStayRaw(t *testing.T) {
	content := summary(
		"# "+row(testColumns...),
		row("GCF_9.1", "mystery genome", "9", "9", "Foo bar", "", "", "Megascaffold", "", "", "na", ""),
	)

	records, err := Parse(newCatalog(content))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Empty(t, records[0].Level)
	assert.Equal(t, "Megascaffold", records[0].RawLevel)
	assert.Empty(t, records[0].RefseqCategory)
	assert.Equal(t, "mystery genome", records[0].RawRefseqCategory)
}

func TestParse_Errors(t *testing.T) {
	header := "# " + row(testColumns...)
	good := row("GCF_1.1", "na", "1", "1", "Foo bar", "", "", "Contig", "", "", "na", "")

	tests := []struct {
		name     string
		content  string
		wantLine int
		contains string
	}{
		{
			name:     "field count mismatch",
			content:  summary(header, good, row("GCF_2.1", "na", "2")),
			wantLine: 3,
			contains: "expected 12 fields, got 3",
		},
		{
			name:     "duplicate accession",
			content:  summary(header, good, good),
			wantLine: 3,
			contains: "duplicate accession GCF_1.1",
		},
		{
			name:     "non numeric taxid",
			content:  summary(header, row("GCF_1.1", "na", "abc", "1", "Foo bar", "", "", "Contig", "", "", "na", "")),
			wantLine: 2,
			contains: "invalid taxid",
		},
		{
			name:     "missing required column",
			content:  summary(row("assembly_accession", "taxid"), row("GCF_1.1", "1")),
			wantLine: 1,
			contains: `missing required column "species_taxid"`,
		},
		{
			name:     "missing header",
			content:  summary("# only comments", "#"),
			contains: "missing header row",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(newCatalog(tt.content))
			require.Error(t, err)

			var parseErr *assembly.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.wantLine, parseErr.Line)
			assert.Equal(t, "bacteria", parseErr.Group)
			assert.Contains(t, parseErr.Reason, tt.contains)
		})
	}
}

func TestParse_EmptyCatalogHasNoRecords(t *testing.T) {
	records, err := Parse(newCatalog(summary("# " + row(testColumns...))))
	require.NoError(t, err)
	assert.Empty(t, records)
}
