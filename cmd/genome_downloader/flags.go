package main

import (
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/italolelis/genome_downloader/internal/config"
)

// parseConfig layers command line flags over the environment and the
// optional --config file. Positional arguments name the groups to fetch.
func parseConfig(args []string, stderr io.Writer) (*config.Config, error) {
	path, err := configPath(args)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("genome_downloader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: genome_downloader [flags] [groups]\n\nGroups: comma separated list, or \"all\".\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.String("config", path, "YAML configuration file")

	fs.StringVarP(&cfg.Section, "section", "s", cfg.Section, "NCBI section to download (refseq or genbank)")
	fs.StringSliceVarP(&cfg.Formats, "formats", "F", cfg.Formats, "file formats to download, or \"all\"")
	fs.StringSliceVarP(&cfg.AssemblyLevels, "assembly-levels", "l", cfg.AssemblyLevels, "assembly levels to download, or \"all\"")
	fs.StringSliceVarP(&cfg.RefseqCategories, "refseq-categories", "R", cfg.RefseqCategories, "refseq categories to download (reference, representative, na, all)")
	fs.StringSliceVarP(&cfg.TypeMaterials, "type-materials", "M", cfg.TypeMaterials, "relation to type material (any, all, type, reference, synonym, proxytype, neotype)")

	fs.StringSliceVarP(&cfg.Genera, "genera", "g", cfg.Genera, "only download assemblies of these genera")
	fs.StringVar(&cfg.GeneraFile, "genera-file", cfg.GeneraFile, "file listing one genus per line")
	fs.BoolVar(&cfg.FuzzyGenus, "fuzzy-genus", cfg.FuzzyGenus, "match genera anywhere in the organism name, ignoring case")
	fs.StringSliceVarP(&cfg.TaxIDs, "taxids", "T", cfg.TaxIDs, "only download assemblies of these taxonomy IDs")
	fs.StringVar(&cfg.TaxIDsFile, "taxids-file", cfg.TaxIDsFile, "file listing one taxonomy ID per line")
	fs.StringSliceVarP(&cfg.SpeciesTaxIDs, "species-taxids", "S", cfg.SpeciesTaxIDs, "only download assemblies of these species taxonomy IDs")
	fs.StringVar(&cfg.SpeciesTaxIDsFile, "species-taxids-file", cfg.SpeciesTaxIDsFile, "file listing one species taxonomy ID per line")
	fs.StringSliceVarP(&cfg.Accessions, "assembly-accessions", "A", cfg.Accessions, "only download these assembly accessions")
	fs.StringVar(&cfg.AccessionsFile, "assembly-accessions-file", cfg.AccessionsFile, "file listing one assembly accession per line")
	fs.BoolVar(&cfg.FuzzyAccessions, "fuzzy-accessions", cfg.FuzzyAccessions, "match accession prefixes, ignoring versions")

	fs.StringVarP(&cfg.OutputDir, "output-folder", "o", cfg.OutputDir, "create output hierarchy in this folder")
	fs.BoolVar(&cfg.FlatOutput, "flat-output", cfg.FlatOutput, "put every file directly into the output folder")
	fs.BoolVarP(&cfg.HumanReadable, "human-readable", "H", cfg.HumanReadable, "create links in a human readable hierarchy")
	fs.StringVarP(&cfg.MetadataTable, "metadata-table", "m", cfg.MetadataTable, "write a tab separated table describing the downloaded files")
	fs.BoolVarP(&cfg.DryRun, "dry-run", "n", cfg.DryRun, "only list the assemblies that would be downloaded")

	fs.StringVarP(&cfg.URI, "uri", "u", cfg.URI, "NCBI base URI")
	fs.IntVarP(&cfg.Parallel, "parallel", "p", cfg.Parallel, "number of downloads to run at once")
	fs.IntVarP(&cfg.Retries, "retries", "r", cfg.Retries, "transfer attempts per file on network errors")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "timeout for a single request")

	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "catalog cache directory (default: user cache dir)")
	fs.DurationVar(&cfg.CacheMaxAge, "cache-max-age", cfg.CacheMaxAge, "reuse cached catalogs younger than this")
	fs.BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, "always fetch catalogs, refreshing the cache")
	fs.BoolVar(&cfg.AllowStaleCache, "allow-stale-cache", cfg.AllowStaleCache, "use an expired cached catalog when NCBI cannot be reached")
	fs.StringVar(&cfg.LedgerPath, "ledger", cfg.LedgerPath, "SQLite file recording verified downloads")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text or json)")
	verbose := fs.BoolP("verbose", "v", false, "log progress at info level")
	debug := fs.BoolP("debug", "d", false, "log at debug level")
	fs.StringVar(&cfg.Telemetry.MetricsAddr, "metrics-addr", cfg.Telemetry.MetricsAddr, "serve Prometheus metrics on this address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		cfg.Groups = splitList(fs.Args())
	}

	switch {
	case *debug:
		cfg.LogLevel = "DEBUG"
	case *verbose:
		cfg.LogLevel = "INFO"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configPath finds --config before the full flag set exists, since the file
// supplies the defaults of every other flag.
func configPath(args []string) (string, error) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	path := fs.String("config", "", "")

	if err := fs.Parse(args); err != nil && err != flag.ErrHelp {
		return "", err
	}

	return *path, nil
}

func splitList(args []string) []string {
	var out []string

	for _, a := range args {
		for _, s := range strings.Split(a, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}

	return out
}
