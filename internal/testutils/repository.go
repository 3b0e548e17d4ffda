// Package testutils provides a fake assembly repository for tests.
package testutils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Always makes Fail and Corrupt apply to every request.
const Always = -1

// catalogColumns follows the public assembly_summary.txt layout.
var catalogColumns = []string{
	"assembly_accession", "bioproject", "biosample", "wgs_master", "refseq_category",
	"taxid", "species_taxid", "organism_name", "infraspecific_name", "isolate",
	"version_status", "assembly_level", "release_type", "genome_rep", "seq_rel_date",
	"asm_name", "submitter", "gbrs_paired_asm", "paired_asm_comp", "ftp_path",
	"excluded_from_refseq", "relation_to_type_material",
}

// Assembly describes one assembly served by a Repository.
type Assembly struct {
	Accession         string
	AsmName           string
	Organism          string
	TaxID             int64
	SpeciesTaxID      int64
	Level             string
	Category          string
	InfraspecificName string
	Isolate           string
	TypeMaterial      string

	// Files maps a format suffix such as "_genomic.fna.gz" to content.
	Files map[string][]byte

	// NoDirectory publishes the record with an ftp_path of "na".
	NoDirectory bool
}

// Dir is the repository path of the assembly directory.
func (a Assembly) Dir() string {
	return "/all/" + a.Accession + "_" + a.AsmName
}

// Filename is the published name of the file carrying suffix.
func (a Assembly) Filename(suffix string) string {
	return a.Accession + "_" + a.AsmName + suffix
}

// FilePath is the repository path of the file carrying suffix.
func (a Assembly) FilePath(suffix string) string {
	return a.Dir() + "/" + a.Filename(suffix)
}

// ManifestPath is the repository path of the checksum manifest.
func (a Assembly) ManifestPath() string {
	return a.Dir() + "/md5checksums.txt"
}

// Repository is an httptest server laid out like the public genomes tree.
type Repository struct {
	*httptest.Server

	mu      sync.Mutex
	content map[string][]byte
	fail    map[string]int
	corrupt map[string]int
	hits    map[string]int
}

// NewRepository starts an empty repository, closed with the test.
func NewRepository(t *testing.T) *Repository {
	t.Helper()

	r := &Repository{
		content: make(map[string][]byte),
		fail:    make(map[string]int),
		corrupt: make(map[string]int),
		hits:    make(map[string]int),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)

	return r
}

// AddAssemblies publishes a catalog for section/group listing asms, plus
// every assembly's files and manifest.
func (r *Repository) AddAssemblies(section, group string, asms ...Assembly) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder

	b.WriteString("##   See ftp://ftp.ncbi.nlm.nih.gov/genomes/README_assembly_summary.txt for a description of the columns\n")
	b.WriteString("# " + strings.Join(catalogColumns, "\t") + "\n")

	for _, a := range asms {
		ftpPath := r.URL + a.Dir()
		if a.NoDirectory {
			ftpPath = "na"
		}

		row := map[string]string{
			"assembly_accession":        a.Accession,
			"refseq_category":           a.Category,
			"taxid":                     strconv.FormatInt(a.TaxID, 10),
			"species_taxid":             strconv.FormatInt(a.SpeciesTaxID, 10),
			"organism_name":             a.Organism,
			"infraspecific_name":        a.InfraspecificName,
			"isolate":                   a.Isolate,
			"version_status":            "latest",
			"assembly_level":            a.Level,
			"release_type":              "Major",
			"genome_rep":                "Full",
			"seq_rel_date":              "2020/01/31",
			"asm_name":                  a.AsmName,
			"submitter":                 "Test Center",
			"ftp_path":                  ftpPath,
			"relation_to_type_material": a.TypeMaterial,
		}

		fields := make([]string, len(catalogColumns))
		for i, c := range catalogColumns {
			fields[i] = row[c]
		}

		b.WriteString(strings.Join(fields, "\t") + "\n")

		var manifest strings.Builder

		for suffix, data := range a.Files {
			r.content[a.FilePath(suffix)] = data
			fmt.Fprintf(&manifest, "%s  ./%s\n", MD5Hex(data), a.Filename(suffix))
		}

		r.content[a.ManifestPath()] = []byte(manifest.String())
	}

	r.content[CatalogPath(section, group)] = []byte(b.String())
}

// CatalogPath is the repository path of a group catalog.
func CatalogPath(section, group string) string {
	return "/" + section + "/" + group + "/assembly_summary.txt"
}

// Remove unpublishes path.
func (r *Repository) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.content, path)
}

// Fail answers the next n requests for path with 503.
func (r *Repository) Fail(path string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fail[path] = n
}

// Corrupt serves altered bytes for the next n requests for path.
func (r *Repository) Corrupt(path string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.corrupt[path] = n
}

// Hits returns how many requests path received.
func (r *Repository) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hits[path]
}

func (r *Repository) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()

	path := req.URL.Path
	r.hits[path]++

	data, ok := r.content[path]
	failing := take(r.fail, path)
	corrupting := take(r.corrupt, path)

	r.mu.Unlock()

	switch {
	case failing:
		w.WriteHeader(http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, req)
	case corrupting:
		bad := append([]byte("corrupted:"), data...)
		_, _ = w.Write(bad)
	default:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}
}

func take(counters map[string]int, path string) bool {
	n, ok := counters[path]
	if !ok || n == 0 {
		return false
	}

	if n > 0 {
		counters[path] = n - 1
	}

	return true
}

// MD5Hex returns the lowercase hex MD5 of data.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)

	return hex.EncodeToString(sum[:])
}
