package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/catalog"
	"github.com/italolelis/genome_downloader/internal/selection"
)

// Config holds every run option. Values come from environment variables
// (GENOME_ prefix) and may be overridden by a YAML file and by flags.
type Config struct {
	Section string   `envconfig:"SECTION" default:"refseq" yaml:"section"`
	Groups  []string `envconfig:"GROUPS" default:"all" yaml:"groups"`
	Formats []string `envconfig:"FORMATS" default:"genbank" yaml:"formats"`

	AssemblyLevels   []string `envconfig:"ASSEMBLY_LEVELS" default:"all" yaml:"assembly_levels"`
	RefseqCategories []string `envconfig:"REFSEQ_CATEGORIES" yaml:"refseq_categories"`
	TypeMaterials    []string `envconfig:"TYPE_MATERIALS" default:"any" yaml:"type_materials"`

	Genera            []string `envconfig:"GENERA" yaml:"genera"`
	GeneraFile        string   `envconfig:"GENERA_FILE" yaml:"genera_file"`
	FuzzyGenus        bool     `envconfig:"FUZZY_GENUS" yaml:"fuzzy_genus"`
	TaxIDs            []string `envconfig:"TAXIDS" yaml:"taxids"`
	TaxIDsFile        string   `envconfig:"TAXIDS_FILE" yaml:"taxids_file"`
	SpeciesTaxIDs     []string `envconfig:"SPECIES_TAXIDS" yaml:"species_taxids"`
	SpeciesTaxIDsFile string   `envconfig:"SPECIES_TAXIDS_FILE" yaml:"species_taxids_file"`
	Accessions        []string `envconfig:"ACCESSIONS" yaml:"accessions"`
	AccessionsFile    string   `envconfig:"ACCESSIONS_FILE" yaml:"accessions_file"`
	FuzzyAccessions   bool     `envconfig:"FUZZY_ACCESSIONS" yaml:"fuzzy_accessions"`

	OutputDir     string `envconfig:"OUTPUT_DIR" default:"." yaml:"output_dir"`
	FlatOutput    bool   `envconfig:"FLAT_OUTPUT" yaml:"flat_output"`
	HumanReadable bool   `envconfig:"HUMAN_READABLE" yaml:"human_readable"`
	MetadataTable string `envconfig:"METADATA_TABLE" yaml:"metadata_table"`
	DryRun        bool   `envconfig:"DRY_RUN" yaml:"dry_run"`

	URI            string        `envconfig:"URI" default:"https://ftp.ncbi.nih.gov/genomes" yaml:"uri"`
	Parallel       int           `envconfig:"PARALLEL" default:"1" yaml:"parallel"`
	Retries        int           `envconfig:"RETRIES" default:"3" yaml:"retries"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s" yaml:"request_timeout"`

	CacheDir        string        `envconfig:"CACHE_DIR" yaml:"cache_dir"`
	CacheMaxAge     time.Duration `envconfig:"CACHE_MAX_AGE" default:"24h" yaml:"cache_max_age"`
	NoCache         bool          `envconfig:"NO_CACHE" yaml:"no_cache"`
	AllowStaleCache bool          `envconfig:"ALLOW_STALE_CACHE" yaml:"allow_stale_cache"`

	// PartialMaxAge is how old a leftover temp file must be before it is
	// removed at the start of a run.
	PartialMaxAge time.Duration `envconfig:"PARTIAL_MAX_AGE" default:"1h" yaml:"partial_max_age"`

	LedgerPath        string `envconfig:"LEDGER_PATH" yaml:"ledger_path"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" yaml:"discord_webhook_url"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"WARN" yaml:"log_level"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" yaml:"log_format"`

	Telemetry struct {
		Enabled        bool          `split_words:"true" yaml:"enabled"`
		MetricsAddr    string        `split_words:"true" yaml:"metrics_addr"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT" yaml:"otlp_endpoint"`
		OTLPInsecure   bool          `envconfig:"OTLP_INSECURE" yaml:"otlp_insecure"`
		ExportInterval time.Duration `split_words:"true" default:"30s" yaml:"export_interval"`
	} `yaml:"telemetry"`
}

const envPrefix = "GENOME"

// LoadConfig reads environment variables and, when path is not empty, the
// YAML file at path on top of them.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Validate checks every option and returns the first problem as an
// *assembly.ConfigurationError.
func (c *Config) Validate() error {
	if err := assembly.ValidateSection(c.Section); err != nil {
		return err
	}

	if _, err := c.ResolvedGroups(); err != nil {
		return err
	}

	if _, err := assembly.ExpandFormats(c.Formats); err != nil {
		return err
	}

	if _, err := selection.Compile(c.Criteria()); err != nil {
		return err
	}

	switch {
	case c.Parallel < 1:
		return &assembly.ConfigurationError{Option: "parallel", Reason: fmt.Sprintf("must be at least 1, got %d", c.Parallel)}
	case c.Retries < 1:
		return &assembly.ConfigurationError{Option: "retries", Reason: fmt.Sprintf("must be at least 1, got %d", c.Retries)}
	case c.RequestTimeout <= 0:
		return &assembly.ConfigurationError{Option: "request_timeout", Reason: "must be positive"}
	case c.CacheMaxAge < 0:
		return &assembly.ConfigurationError{Option: "cache_max_age", Reason: "must not be negative"}
	case strings.TrimSpace(c.OutputDir) == "":
		return &assembly.ConfigurationError{Option: "output_dir", Reason: "must not be empty"}
	case c.URI == "":
		return &assembly.ConfigurationError{Option: "uri", Reason: "must not be empty"}
	case c.FlatOutput && c.HumanReadable:
		return &assembly.ConfigurationError{Option: "flat_output", Reason: "cannot be combined with human_readable"}
	}

	if _, ok := parseLevel(c.LogLevel); !ok {
		return &assembly.ConfigurationError{Option: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}

	return nil
}

// ResolvedGroups expands "all" and normalizes group names.
func (c *Config) ResolvedGroups() ([]string, error) {
	return assembly.ExpandGroups(c.Groups)
}

// Criteria builds the selection criteria. Inline values and value files are
// kept apart, a value is never checked against the filesystem.
func (c *Config) Criteria() selection.Criteria {
	return selection.Criteria{
		TaxIDs:           selection.ValueList{Inline: c.TaxIDs, File: c.TaxIDsFile},
		SpeciesTaxIDs:    selection.ValueList{Inline: c.SpeciesTaxIDs, File: c.SpeciesTaxIDsFile},
		Genera:           selection.ValueList{Inline: c.Genera, File: c.GeneraFile},
		FuzzyGenus:       c.FuzzyGenus,
		Accessions:       selection.ValueList{Inline: c.Accessions, File: c.AccessionsFile},
		FuzzyAccessions:  c.FuzzyAccessions,
		AssemblyLevels:   c.AssemblyLevels,
		RefseqCategories: c.RefseqCategories,
		TypeMaterials:    c.TypeMaterials,
	}
}

// ResolvedCacheDir returns CacheDir, defaulting to the user cache directory.
func (c *Config) ResolvedCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Join(catalog.ErrCacheUnwritable, err)
	}

	return filepath.Join(base, "genome_downloader"), nil
}

func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)

	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
