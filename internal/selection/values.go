package selection

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ValueList is a filter value list supplied either inline or as a reference
// to a newline-delimited file. Which one it is is decided by the caller, the
// filesystem is never probed to guess.
type ValueList struct {
	Inline []string
	File   string
}

// Inline builds a ValueList from literal values.
func Inline(values ...string) ValueList {
	return ValueList{Inline: values}
}

// FromFile builds a ValueList read from path.
func FromFile(path string) ValueList {
	return ValueList{File: path}
}

// IsZero reports whether no values were supplied.
func (v ValueList) IsZero() bool {
	return len(v.Inline) == 0 && v.File == ""
}

// Values returns the literal values followed by the file's lines. Blank lines
// and surrounding whitespace are dropped.
func (v ValueList) Values() ([]string, error) {
	out := make([]string, 0, len(v.Inline))

	for _, s := range v.Inline {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	if v.File == "" {
		return out, nil
	}

	f, err := os.Open(v.File)
	if err != nil {
		return nil, fmt.Errorf("open value list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			out = append(out, s)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read value list %s: %w", v.File, err)
	}

	return out, nil
}

// IDs parses every value as a taxonomy ID.
func (v ValueList) IDs() ([]int64, error) {
	values, err := v.Values()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(values))

	for _, s := range values {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid taxonomy id %q", s)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
