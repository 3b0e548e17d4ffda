package assembly

import (
	"fmt"
	"strings"
)

// Repository sections.
const (
	SectionRefseq  = "refseq"
	SectionGenbank = "genbank"
)

// GroupAll expands to every supported taxonomic group.
const GroupAll = "all"

// Groups lists the taxonomic groups published by the remote repository, in
// the order they are processed when "all" is requested.
var Groups = []string{
	"archaea",
	"bacteria",
	"fungi",
	"invertebrate",
	"metagenomes",
	"plant",
	"protozoa",
	"unknown",
	"vertebrate_mammalian",
	"vertebrate_other",
	"viral",
}

// ValidateSection checks the repository section name.
func ValidateSection(section string) error {
	switch section {
	case SectionRefseq, SectionGenbank:
		return nil
	}

	return &ConfigurationError{Option: "section", Reason: fmt.Sprintf("unsupported section %q", section)}
}

// ResolveGroup maps a user-supplied group name onto the canonical remote
// directory name. Matching ignores case and accepts '-' for '_'.
func ResolveGroup(name string) (string, error) {
	canonical := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")

	for _, g := range Groups {
		if g == canonical {
			return g, nil
		}
	}

	return "", &ConfigurationError{Option: "groups", Reason: fmt.Sprintf("unsupported group %q", name)}
}

// ExpandGroups resolves every name, expanding "all", and drops duplicates.
func ExpandGroups(names []string) ([]string, error) {
	if len(names) == 0 {
		return append([]string(nil), Groups...), nil
	}

	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), GroupAll) {
			return append([]string(nil), Groups...), nil
		}
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, n := range names {
		g, err := ResolveGroup(n)
		if err != nil {
			return nil, err
		}

		if _, dup := seen[g]; dup {
			continue
		}

		seen[g] = struct{}{}
		out = append(out, g)
	}

	return out, nil
}
