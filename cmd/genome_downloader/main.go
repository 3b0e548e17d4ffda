package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/config"
	"github.com/italolelis/genome_downloader/internal/logctx"
	"github.com/italolelis/genome_downloader/internal/mirror"
	"github.com/italolelis/genome_downloader/internal/pipeline"
	"github.com/italolelis/genome_downloader/internal/telemetry"
)

// Set via ldflags.
var version = "dev"

const (
	exitOK       = 0
	exitFailure  = 1
	exitTempFail = 75 // EX_TEMPFAIL
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	// Load .env file. godotenv does not override existing env vars, so
	// process env and explicit exports take precedence.
	_ = godotenv.Load()

	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}

		fmt.Fprintf(stderr, "config error: %v\n", err)

		return exitFailure
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logctx.WithLogger(ctx, logger)

	res, err := run(ctx, cfg)
	if err != nil {
		logger.Error("run failed", "err", err)
	}

	if res != nil && cfg.DryRun {
		printDryRun(stdout, res)
	}

	return exitCode(res, err)
}

func run(ctx context.Context, cfg *config.Config) (*pipeline.Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("genome downloader starting...",
		"version", version,
		"section", cfg.Section,
		"groups", strings.Join(cfg.Groups, ","),
		"formats", strings.Join(cfg.Formats, ","),
		"output_dir", cfg.OutputDir,
		"parallel", cfg.Parallel,
		"dry_run", cfg.DryRun,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled || cfg.Telemetry.MetricsAddr != "",
		ServiceName:    "genome_downloader",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Metrics Server
	if cfg.Telemetry.MetricsAddr != "" {
		server := setupMetricsServer(ctx, cfg.Telemetry.MetricsAddr, tel)

		go func() {
			logger.Info("serving metrics", "addr", cfg.Telemetry.MetricsAddr)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the metrics server", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Pipeline
	p, err := pipeline.New(*cfg, pipeline.WithTelemetry(tel))
	if err != nil {
		return nil, err
	}

	return p.Run(ctx)
}

func setupMetricsServer(ctx context.Context, addr string, tel *telemetry.Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: cfg.SlogLevel(), TimeFormat: time.Kitchen})
	}

	return slog.New(logctx.NewTraceHandler(handler))
}

// exitCode maps a run to the process exit status: 75 when the catalog
// source was unreachable for every group, 1 for any other failure.
func exitCode(res *pipeline.Result, err error) int {
	if err != nil {
		if errors.Is(err, pipeline.ErrAllGroupsFailed) && res != nil && catalogUnreachable(res.GroupErrors) {
			return exitTempFail
		}

		return exitFailure
	}

	if res == nil || res.Status == pipeline.StatusFailed {
		return exitFailure
	}

	return exitOK
}

func catalogUnreachable(groupErrs []pipeline.GroupError) bool {
	if len(groupErrs) == 0 {
		return false
	}

	for i := range groupErrs {
		var netErr *assembly.NetworkError
		if !errors.As(&groupErrs[i], &netErr) {
			return false
		}
	}

	return true
}

func printDryRun(w io.Writer, res *pipeline.Result) {
	n := 0
	for _, set := range res.Selections {
		n += set.Len()
	}

	if n == 0 {
		fmt.Fprintln(w, "No downloads matched your filter. Please check your options.")

		return
	}

	fmt.Fprintf(w, "Considering the following %d assemblies for download:\n", n)

	for _, set := range res.Selections {
		for _, rec := range set.Records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Accession, rec.OrganismName, mirror.StrainLabel(rec, set.Group == "viral"))
		}
	}
}
