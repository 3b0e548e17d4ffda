// Package assembly holds the catalog data model shared by every stage of a
// download run: assembly records, their enumerated attributes, the known
// file formats and the error taxonomy.
package assembly

import (
	"strings"
	"time"
)

// Level is the assembly level reported by the catalog.
type Level string

const (
	LevelComplete   Level = "complete"
	LevelChromosome Level = "chromosome"
	LevelScaffold   Level = "scaffold"
	LevelContig     Level = "contig"
)

var levelContent = map[Level]string{
	LevelComplete:   "Complete Genome",
	LevelChromosome: "Chromosome",
	LevelScaffold:   "Scaffold",
	LevelContig:     "Contig",
}

// Levels lists every assembly level in catalog order.
var Levels = []Level{LevelComplete, LevelChromosome, LevelScaffold, LevelContig}

// ParseLevel maps both option keys ("complete") and catalog values
// ("Complete Genome") to a Level.
func ParseLevel(s string) (Level, bool) {
	for lvl, content := range levelContent {
		if s == string(lvl) || s == content {
			return lvl, true
		}
	}

	return "", false
}

// RefseqCategory is the refseq_category column of the catalog.
type RefseqCategory string

const (
	CategoryReference      RefseqCategory = "reference"
	CategoryRepresentative RefseqCategory = "representative"
	CategoryNA             RefseqCategory = "na"
)

var categoryContent = map[RefseqCategory]string{
	CategoryReference:      "reference genome",
	CategoryRepresentative: "representative genome",
	CategoryNA:             "na",
}

// RefseqCategories lists every known category.
var RefseqCategories = []RefseqCategory{CategoryReference, CategoryRepresentative, CategoryNA}

// ParseRefseqCategory maps option keys and catalog values to a category.
func ParseRefseqCategory(s string) (RefseqCategory, bool) {
	for cat, content := range categoryContent {
		if s == string(cat) || s == content {
			return cat, true
		}
	}

	return "", false
}

// Type material keys accepted by the type-material filter. TypeMaterialAny
// and TypeMaterialAll are wildcards.
const (
	TypeMaterialAny = "any"
	TypeMaterialAll = "all"
)

var typeMaterialContent = map[string]string{
	"type":      "assembly from type material",
	"reference": "assembly designated as reftype",
	"synonym":   "assembly from synonym type material",
	"proxytype": "assembly from proxytype material",
	"neotype":   "assembly designated as neotype",
}

// TypeMaterialKeys returns the accepted non-wildcard type material keys.
func TypeMaterialKeys() []string {
	return []string{"type", "reference", "synonym", "proxytype", "neotype"}
}

// TypeMaterialContent returns the catalog text for a type material key.
func TypeMaterialContent(key string) (string, bool) {
	c, ok := typeMaterialContent[key]

	return c, ok
}

// Record is one row of an assembly catalog. Records are never modified after
// parsing.
type Record struct {
	Accession         string
	OrganismName      string
	InfraspecificName string
	Isolate           string
	AsmName           string
	TaxID             int64
	SpeciesTaxID      int64
	Level             Level
	RawLevel          string
	RefseqCategory    RefseqCategory
	RawRefseqCategory string
	TypeMaterial      string // empty when unset
	FTPPath           string
	LastModified      time.Time
	Columns           map[string]string
}

// HasTypeMaterial reports whether relation_to_type_material is set.
func (r *Record) HasTypeMaterial() bool {
	return r.TypeMaterial != ""
}

// Downloadable reports whether the record points at a remote directory.
func (r *Record) Downloadable() bool {
	return r.FTPPath != "" && r.FTPPath != "na"
}

// BaseURL returns the remote directory of the assembly, rewritten to HTTPS
// when the catalog lists an FTP location.
func (r *Record) BaseURL() string {
	return strings.TrimRight(ConvertFTPURL(r.FTPPath), "/")
}

// ConvertFTPURL rewrites ftp:// URLs to https://, leaving others untouched.
func ConvertFTPURL(url string) string {
	return strings.Replace(url, "ftp://", "https://", 1)
}
