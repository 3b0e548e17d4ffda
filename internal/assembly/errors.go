package assembly

import "fmt"

// NetworkError represents transport failures while fetching a catalog, a
// checksum manifest or a genome file, including non-2xx responses and timeouts.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch_catalog", "fetch_file")
	URL        string // Remote URL being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d)", e.Operation, e.URL, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
	}

	return fmt.Sprintf("network error during %s of %s", e.Operation, e.URL)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError represents malformed catalog content. It is fatal for one
// (section, group) pair only.
type ParseError struct {
	Section string
	Group   string
	Line    int    // 1-based line number, 0 when not tied to a line
	Reason  string // Human-readable explanation
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s/%s catalog at line %d: %s", e.Section, e.Group, e.Line, e.Reason)
	}

	return fmt.Sprintf("parse error in %s/%s catalog: %s", e.Section, e.Group, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError is returned when downloaded content disagrees with
// the checksum published in the assembly's manifest.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// UnsupportedLinkError is returned when the filesystem refuses to create a
// symbolic link for the human-readable mirror.
type UnsupportedLinkError struct {
	Link   string
	Target string
	Err    error
}

func (e *UnsupportedLinkError) Error() string {
	return fmt.Sprintf("cannot link %s -> %s: links not supported", e.Link, e.Target)
}

func (e *UnsupportedLinkError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid or contradictory option value.
// An empty selection is never a ConfigurationError.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Option, e.Reason)
}
