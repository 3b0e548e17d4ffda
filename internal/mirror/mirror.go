// Package mirror builds the human readable view of the download tree: a
// symlink per fetched file under genus/species/strain directories.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/planner"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

// Dir is the name of the mirror root below the output directory.
const Dir = "human_readable"

const (
	dirPerm     = 0o755
	viralGroup  = "viral"
	unknownName = "unknown"
)

// Status is the result of linking one file.
type Status string

const (
	StatusLinked        Status = "linked"
	StatusAlreadyLinked Status = "already-linked"
	StatusMissing       Status = "missing"
	StatusWarning       Status = "warning"
)

// LinkResult describes what happened to one task's link.
type LinkResult struct {
	Task   planner.Task
	Link   string
	Target string
	Status Status
	Err    error
}

// SymlinkFunc creates newname as a symbolic link to oldname.
type SymlinkFunc func(oldname, newname string) error

// Builder creates mirror links.
type Builder struct {
	root      string
	symlink   SymlinkFunc
	telemetry *telemetry.Telemetry
}

// Option configures a Builder.
type Option func(*Builder)

// WithSymlinkFunc replaces os.Symlink.
func WithSymlinkFunc(fn SymlinkFunc) Option {
	return func(b *Builder) {
		b.symlink = fn
	}
}

// WithTelemetry records link results.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(b *Builder) {
		b.telemetry = tel
	}
}

// NewBuilder returns a Builder placing links under outputDir/human_readable.
func NewBuilder(outputDir string, opts ...Option) *Builder {
	b := &Builder{
		root:    filepath.Join(outputDir, Dir),
		symlink: os.Symlink,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// LinkPath is where the link for t lives.
func (b *Builder) LinkPath(t planner.Task) string {
	return filepath.Join(b.root, t.Section, t.Group, filepath.Join(Labels(t.Record, t.Group == viralGroup)...), t.Filename)
}

// Build links every task's canonical file. Failures are reported per entry
// and never stop the remaining links.
func (b *Builder) Build(ctx context.Context, tasks []planner.Task) []LinkResult {
	logger := logctx.LoggerFromContext(ctx)
	results := make([]LinkResult, 0, len(tasks))

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}

		res := b.link(t)
		results = append(results, res)

		b.telemetry.RecordMirrorLink(ctx, string(res.Status))

		switch res.Status {
		case StatusMissing:
			logger.Warn("canonical file missing, not linking", "file", res.Target, "accession", t.Record.Accession)
		case StatusWarning:
			logger.Warn("could not create link", "link", res.Link, "err", res.Err)
		case StatusLinked:
			logger.Debug("linked file", "link", res.Link, "target", res.Target)
		}
	}

	return results
}

func (b *Builder) link(t planner.Task) LinkResult {
	res := LinkResult{Task: t, Link: b.LinkPath(t)}

	target, err := filepath.Abs(t.LocalPath)
	if err != nil {
		res.Status = StatusWarning
		res.Err = err

		return res
	}

	res.Target = target

	if _, err := os.Stat(target); err != nil {
		res.Status = StatusMissing
		res.Err = err

		return res
	}

	if current, err := os.Readlink(res.Link); err == nil && current == target {
		res.Status = StatusAlreadyLinked

		return res
	}

	if err := b.replace(res.Link, target); err != nil {
		res.Status = StatusWarning
		res.Err = &assembly.UnsupportedLinkError{Link: res.Link, Target: target, Err: err}

		return res
	}

	res.Status = StatusLinked

	return res
}

// replace points link at target, removing whatever stale entry was there.
func (b *Builder) replace(link, target string) error {
	if err := os.MkdirAll(filepath.Dir(link), dirPerm); err != nil {
		return err
	}

	if info, err := os.Lstat(link); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", link)
		}

		if err := os.Remove(link); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return b.symlink(target, link)
}

// Labels returns the directory components naming rec in the mirror:
// genus, species and strain, or organism and strain for viruses.
func Labels(rec assembly.Record, viral bool) []string {
	words := strings.Fields(rec.OrganismName)

	if viral {
		organism := strings.Join(words, "_")
		if organism == "" {
			organism = unknownName
		}

		return []string{sanitize(organism), StrainLabel(rec, true)}
	}

	genus, species := unknownName, unknownName
	if len(words) > 0 {
		genus = words[0]
	}

	if len(words) > 1 {
		species = words[1]
	}

	return []string{sanitize(genus), sanitize(species), StrainLabel(rec, false)}
}

// StrainLabel picks the strain from the infraspecific name (the part after
// "="), then the isolate, then the organism words past the species (not for
// viruses), falling back to the accession.
func StrainLabel(rec assembly.Record, viral bool) string {
	return sanitize(strain(rec, viral))
}

func strain(rec assembly.Record, viral bool) string {
	if rec.InfraspecificName != "" {
		parts := strings.Split(rec.InfraspecificName, "=")

		return parts[len(parts)-1]
	}

	if rec.Isolate != "" {
		return rec.Isolate
	}

	if words := strings.Split(rec.OrganismName, " "); len(words) > 2 && !viral {
		return strings.Join(words[2:], " ")
	}

	return rec.Accession
}

var labelReplacer = strings.NewReplacer(" ", "_", ";", "_", "/", "_", `\`, "_")

func sanitize(s string) string {
	s = labelReplacer.Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return unknownName
	}

	return s
}
