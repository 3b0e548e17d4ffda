package planner

import (
	"strings"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

// ManifestName is the per-assembly checksum listing.
const ManifestName = "md5checksums.txt"

// ManifestEntry is one file listed in a manifest.
type ManifestEntry struct {
	Filename string
	MD5      string
}

// Manifest maps the files of an assembly directory to their MD5 sums, in the
// order the manifest lists them.
type Manifest []ManifestEntry

// ParseManifest reads "<md5>  ./<filename>" lines. Lines that do not have
// exactly two fields are skipped.
func ParseManifest(text string) Manifest {
	var m Manifest

	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		m = append(m, ManifestEntry{
			Filename: strings.TrimPrefix(fields[1], "./"),
			MD5:      strings.ToLower(fields[0]),
		})
	}

	return m
}

// Lookup returns the first file of format f.
func (m Manifest) Lookup(f assembly.Format) (ManifestEntry, bool) {
	for _, e := range m {
		if f.Matches(e.Filename) {
			return e, true
		}
	}

	return ManifestEntry{}, false
}
