// Package selection narrows parsed catalog records down to the ones a run
// should fetch. Active criteria combine with AND; the values of one
// criterion combine with OR. An empty Filter keeps every record.
package selection

import (
	"fmt"
	"strings"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

// Criteria is the user-facing filter description, resolved into a Filter by
// Compile.
type Criteria struct {
	TaxIDs           ValueList
	SpeciesTaxIDs    ValueList
	Genera           ValueList
	FuzzyGenus       bool
	Accessions       ValueList
	FuzzyAccessions  bool
	AssemblyLevels   []string
	RefseqCategories []string
	TypeMaterials    []string
}

// Filter is an immutable, compiled predicate over assembly records.
type Filter struct {
	taxIDs          map[int64]struct{}
	speciesTaxIDs   map[int64]struct{}
	genera          []string
	fuzzyGenus      bool
	accessions      []string
	fuzzyAccessions bool
	levels          map[assembly.Level]struct{}
	categories      map[assembly.RefseqCategory]struct{}
	typeMaterial    typeMaterialMatch
}

type typeMaterialMatch struct {
	active bool
	anySet bool
	values map[string]struct{}
}

// Compile validates the criteria and reads any value files.
func Compile(c Criteria) (Filter, error) {
	var (
		f   Filter
		err error
	)

	if f.taxIDs, err = idSet("taxids", c.TaxIDs); err != nil {
		return Filter{}, err
	}

	if f.speciesTaxIDs, err = idSet("species_taxids", c.SpeciesTaxIDs); err != nil {
		return Filter{}, err
	}

	if f.genera, err = c.Genera.Values(); err != nil {
		return Filter{}, &assembly.ConfigurationError{Option: "genera", Reason: err.Error()}
	}

	f.fuzzyGenus = c.FuzzyGenus
	if f.fuzzyGenus {
		for i, g := range f.genera {
			f.genera[i] = strings.ToLower(g)
		}
	}

	if f.accessions, err = c.Accessions.Values(); err != nil {
		return Filter{}, &assembly.ConfigurationError{Option: "accessions", Reason: err.Error()}
	}

	f.fuzzyAccessions = c.FuzzyAccessions

	if f.levels, err = levelSet(c.AssemblyLevels); err != nil {
		return Filter{}, err
	}

	if f.categories, err = categorySet(c.RefseqCategories); err != nil {
		return Filter{}, err
	}

	if f.typeMaterial, err = compileTypeMaterial(c.TypeMaterials); err != nil {
		return Filter{}, err
	}

	return f, nil
}

// MustCompile is Compile for criteria known to be valid.
func MustCompile(c Criteria) Filter {
	f, err := Compile(c)
	if err != nil {
		panic(err)
	}

	return f
}

// Set is the ordered, deduplicated selection for one section/group.
type Set struct {
	Section string
	Group   string
	Records []assembly.Record
}

// Len returns the number of selected records.
func (s Set) Len() int { return len(s.Records) }

// Select returns the records matching f in input order, keeping only the
// first record of each accession.
func Select(records []assembly.Record, f Filter) []assembly.Record {
	out := make([]assembly.Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for i := range records {
		rec := &records[i]

		if _, dup := seen[rec.Accession]; dup {
			continue
		}

		if !f.Match(rec) {
			continue
		}

		seen[rec.Accession] = struct{}{}
		out = append(out, *rec)
	}

	return out
}

// Match reports whether rec passes every active criterion.
func (f Filter) Match(rec *assembly.Record) bool {
	if f.taxIDs != nil {
		if _, ok := f.taxIDs[rec.TaxID]; !ok {
			return false
		}
	}

	if f.speciesTaxIDs != nil {
		if _, ok := f.speciesTaxIDs[rec.SpeciesTaxID]; !ok {
			return false
		}
	}

	if len(f.genera) > 0 && !f.matchGenus(rec.OrganismName) {
		return false
	}

	if len(f.accessions) > 0 && !f.matchAccession(rec.Accession) {
		return false
	}

	if f.levels != nil {
		if _, ok := f.levels[rec.Level]; !ok {
			return false
		}
	}

	if f.categories != nil {
		if _, ok := f.categories[rec.RefseqCategory]; !ok {
			return false
		}
	}

	return f.typeMaterial.match(rec)
}

// matchGenus is a case-sensitive prefix match by default and a
// case-insensitive substring match in fuzzy mode.
func (f Filter) matchGenus(organism string) bool {
	if f.fuzzyGenus {
		organism = strings.ToLower(organism)
	}

	for _, g := range f.genera {
		if f.fuzzyGenus {
			if strings.Contains(organism, g) {
				return true
			}

			continue
		}

		if strings.HasPrefix(organism, g) {
			return true
		}
	}

	return false
}

// matchAccession compares full versioned accessions, or in fuzzy mode
// prefixes of the accession without its version suffix.
func (f Filter) matchAccession(accession string) bool {
	bare := accession
	if i := strings.LastIndexByte(accession, '.'); i > 0 {
		bare = accession[:i]
	}

	for _, a := range f.accessions {
		if a == accession {
			return true
		}

		if f.fuzzyAccessions && strings.HasPrefix(bare, a) {
			return true
		}
	}

	return false
}

func (m typeMaterialMatch) match(rec *assembly.Record) bool {
	if !m.active {
		return true
	}

	if !rec.HasTypeMaterial() {
		return false
	}

	if m.anySet {
		return true
	}

	_, ok := m.values[rec.TypeMaterial]

	return ok
}

func idSet(option string, v ValueList) (map[int64]struct{}, error) {
	if v.IsZero() {
		return nil, nil
	}

	ids, err := v.IDs()
	if err != nil {
		return nil, &assembly.ConfigurationError{Option: option, Reason: err.Error()}
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set, nil
}

func levelSet(names []string) (map[assembly.Level]struct{}, error) {
	if len(names) == 0 || containsAll(names) {
		return nil, nil
	}

	set := make(map[assembly.Level]struct{}, len(names))

	for _, n := range names {
		lvl, ok := assembly.ParseLevel(strings.TrimSpace(n))
		if !ok {
			return nil, &assembly.ConfigurationError{Option: "assembly_levels", Reason: fmt.Sprintf("unsupported assembly level %q", n)}
		}

		set[lvl] = struct{}{}
	}

	return set, nil
}

// categorySet builds the refseq category set. An empty list or "all"
// disables the criterion; "na" is only matched when listed.
func categorySet(names []string) (map[assembly.RefseqCategory]struct{}, error) {
	if len(names) == 0 || containsAll(names) {
		return nil, nil
	}

	set := make(map[assembly.RefseqCategory]struct{}, len(names))

	for _, n := range names {
		cat, ok := assembly.ParseRefseqCategory(strings.TrimSpace(n))
		if !ok {
			return nil, &assembly.ConfigurationError{Option: "refseq_categories", Reason: fmt.Sprintf("unsupported refseq category %q", n)}
		}

		set[cat] = struct{}{}
	}

	return set, nil
}

func compileTypeMaterial(names []string) (typeMaterialMatch, error) {
	if len(names) == 0 {
		return typeMaterialMatch{}, nil
	}

	m := typeMaterialMatch{active: true, values: make(map[string]struct{}, len(names))}

	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))

		switch n {
		case assembly.TypeMaterialAny:
			// unset or any value: the criterion is a no-op
			return typeMaterialMatch{}, nil
		case assembly.TypeMaterialAll:
			m.anySet = true
		default:
			content, ok := assembly.TypeMaterialContent(n)
			if !ok {
				return typeMaterialMatch{}, &assembly.ConfigurationError{Option: "type_materials", Reason: fmt.Sprintf("unsupported type material %q", n)}
			}

			m.values[content] = struct{}{}
		}
	}

	return m, nil
}

func containsAll(names []string) bool {
	for _, n := range names {
		if strings.TrimSpace(n) == "all" {
			return true
		}
	}

	return false
}
