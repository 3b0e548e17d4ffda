package selection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

func record(acc string, taxid, species int64, organism string) assembly.Record {
	return assembly.Record{
		Accession:      acc,
		TaxID:          taxid,
		SpeciesTaxID:   species,
		OrganismName:   organism,
		Level:          assembly.LevelComplete,
		RefseqCategory: assembly.CategoryRepresentative,
		FTPPath:        "https://example.org/" + acc,
	}
}

func accessions(records []assembly.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Accession)
	}

	return out
}

func fixture() []assembly.Record {
	return []assembly.Record{
		record("GCF_000001.1", 561, 561, "Escherichia sp. 1"),
		record("GCF_000002.1", 562, 562, "Escherichia coli K-12"),
		record("GCF_000003.1", 100226, 1902, "Streptomyces coelicolor A3(2)"),
		record("GCF_000004.1", 561, 561, "Escherichia sp. 2"),
		record("GCF_000005.1", 2000, 2000, "Nocardiopsis coelicolor"),
		record("GCF_000006.2", 562, 562, "Escherichia coli O157"),
	}
}

func TestSelect_NoFiltersPassThrough(t *testing.T) {
	records := fixture()

	got := Select(records, MustCompile(Criteria{}))
	assert.Equal(t, records, got)
}

func TestSelect_Deterministic(t *testing.T) {
	records := fixture()
	f := MustCompile(Criteria{Genera: Inline("Escherichia"), AssemblyLevels: []string{"complete"}})

	assert.Equal(t, Select(records, f), Select(records, f))
}

func TestSelect_SpeciesTaxID(t *testing.T) {
	records := []assembly.Record{
		record("GCF_000001.1", 561, 561, "Escherichia sp."),
		record("GCF_000002.1", 562, 562, "Escherichia coli"),
		record("GCF_000003.1", 561, 561, "Escherichia sp. B"),
	}

	got := Select(records, MustCompile(Criteria{SpeciesTaxIDs: Inline("562")}))
	assert.Equal(t, []string{"GCF_000002.1"}, accessions(got))
}

func TestSelect_TaxIDsOrKeepCatalogOrder(t *testing.T) {
	got := Select(fixture(), MustCompile(Criteria{TaxIDs: Inline("2000", "561")}))
	assert.Equal(t, []string{"GCF_000001.1", "GCF_000004.1", "GCF_000005.1"}, accessions(got))
}

func TestSelect_Genus(t *testing.T) {
	tests := []struct {
		name   string
		genera []string
		fuzzy  bool
		want   []string
	}{
		{name: "fuzzy substring", genera: []string{"coelicolor"}, fuzzy: true, want: []string{"GCF_000003.1", "GCF_000005.1"}},
		{name: "exact prefix never matches mid-name", genera: []string{"coelicolor"}, want: []string{}},
		{name: "exact prefix", genera: []string{"Streptomyces"}, want: []string{"GCF_000003.1"}},
		{name: "exact is case sensitive", genera: []string{"streptomyces"}, want: []string{}},
		{name: "fuzzy ignores case", genera: []string{"STREPTOMYCES"}, fuzzy: true, want: []string{"GCF_000003.1"}},
		{name: "species prefix", genera: []string{"Escherichia coli"}, want: []string{"GCF_000002.1", "GCF_000006.2"}},
		{name: "values are ORed", genera: []string{"Nocardiopsis", "Streptomyces"}, want: []string{"GCF_000003.1", "GCF_000005.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustCompile(Criteria{Genera: Inline(tt.genera...), FuzzyGenus: tt.fuzzy})
			assert.Equal(t, tt.want, accessions(Select(fixture(), f)))
		})
	}
}

func TestSelect_Accessions(t *testing.T) {
	exact := MustCompile(Criteria{Accessions: Inline("GCF_000006.2", "GCF_000002")})
	assert.Equal(t, []string{"GCF_000006.2"}, accessions(Select(fixture(), exact)))

	fuzzy := MustCompile(Criteria{Accessions: Inline("GCF_000002", "GCF_000006"), FuzzyAccessions: true})
	assert.Equal(t, []string{"GCF_000002.1", "GCF_000006.2"}, accessions(Select(fixture(), fuzzy)))
}

func TestSelect_CriteriaAreANDed(t *testing.T) {
	f := MustCompile(Criteria{Genera: Inline("Escherichia"), TaxIDs: Inline("562")})
	assert.Equal(t, []string{"GCF_000002.1", "GCF_000006.2"}, accessions(Select(fixture(), f)))
}

func TestSelect_LevelsAndCategories(t *testing.T) {
	records := fixture()
	records[0].Level = assembly.LevelContig
	records[1].RefseqCategory = assembly.CategoryNA
	records[2].RefseqCategory = assembly.CategoryReference
	records[3].Level = ""
	records[3].RawLevel = "Megascaffold"

	levels := MustCompile(Criteria{AssemblyLevels: []string{"contig", "scaffold"}})
	assert.Equal(t, []string{"GCF_000001.1"}, accessions(Select(records, levels)))

	allCats := MustCompile(Criteria{RefseqCategories: []string{"all"}})
	assert.Len(t, Select(records, allCats), len(records))

	realCats := MustCompile(Criteria{RefseqCategories: []string{"reference", "representative"}})
	assert.NotContains(t, accessions(Select(records, realCats)), "GCF_000002.1")

	na := MustCompile(Criteria{RefseqCategories: []string{"na"}})
	assert.Equal(t, []string{"GCF_000002.1"}, accessions(Select(records, na)))

	ref := MustCompile(Criteria{RefseqCategories: []string{"reference genome"}})
	assert.Equal(t, []string{"GCF_000003.1"}, accessions(Select(records, ref)))

	complete := MustCompile(Criteria{AssemblyLevels: []string{"complete"}})
	assert.NotContains(t, accessions(Select(records, complete)), "GCF_000004.1")
}

func TestSelect_TypeMaterial(t *testing.T) {
	records := fixture()[:3]
	records[0].TypeMaterial = "assembly from type material"
	records[1].TypeMaterial = "assembly designated as neotype"

	tests := []struct {
		name   string
		values []string
		want   []string
	}{
		{name: "any keeps unset", values: []string{"any"}, want: []string{"GCF_000001.1", "GCF_000002.1", "GCF_000003.1"}},
		{name: "all excludes unset", values: []string{"all"}, want: []string{"GCF_000001.1", "GCF_000002.1"}},
		{name: "membership", values: []string{"neotype"}, want: []string{"GCF_000002.1"}},
		{name: "membership OR", values: []string{"type", "neotype"}, want: []string{"GCF_000001.1", "GCF_000002.1"}},
		{name: "no match", values: []string{"proxytype"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustCompile(Criteria{TypeMaterials: tt.values})
			assert.Equal(t, tt.want, accessions(Select(records, f)))
		})
	}
}

func TestSelect_DeduplicatesByAccession(t *testing.T) {
	records := fixture()
	records = append(records, records[1])

	got := Select(records, MustCompile(Criteria{}))
	assert.Len(t, got, len(fixture()))
}

func TestValueList_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxids.txt")
	require.NoError(t, os.WriteFile(path, []byte("562\n\n  2000 \n"), 0o600))

	f, err := Compile(Criteria{TaxIDs: FromFile(path)})
	require.NoError(t, err)
	assert.Equal(t, []string{"GCF_000002.1", "GCF_000005.1", "GCF_000006.2"}, accessions(Select(fixture(), f)))
}

func TestValueList_InlineNeverProbesFilesystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Escherichia")
	require.NoError(t, os.WriteFile(path, []byte("Streptomyces\n"), 0o600))

	values, err := Inline(path).Values()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, values)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		option   string
	}{
		{name: "bad taxid", criteria: Criteria{TaxIDs: Inline("abc")}, option: "taxids"},
		{name: "missing file", criteria: Criteria{SpeciesTaxIDs: FromFile("/nonexistent/ids.txt")}, option: "species_taxids"},
		{name: "bad level", criteria: Criteria{AssemblyLevels: []string{"gigascaffold"}}, option: "assembly_levels"},
		{name: "bad category", criteria: Criteria{RefseqCategories: []string{"mystery"}}, option: "refseq_categories"},
		{name: "bad type material", criteria: Criteria{TypeMaterials: []string{"holotype"}}, option: "type_materials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.criteria)

			var cfgErr *assembly.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.option, cfgErr.Option)
		})
	}
}
