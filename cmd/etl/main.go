package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"personetl/internal/batch"
	"personetl/internal/config"
	"personetl/internal/metrics"
	"personetl/internal/metrics/datadog"
	"personetl/internal/metrics/prompush"
	"personetl/internal/parser/csv"
	"personetl/internal/sink"
	"personetl/internal/storage"
	"personetl/internal/validate"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "personetl/internal/storage/all"
)

// main is the entry point for the ETL binary. It loads the pipeline config,
// optionally initializes a metrics backend, and processes every CSV file in
// the input directory.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validateOnly      bool
	)

	flag.StringVar(&cfgPath, "config", "", "pipeline config YAML path (default $ETL_CONFIG)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none; overrides config)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides config)")
	flag.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	if validateOnly {
		log.Printf("configuration is valid: storage=%s input_dir=%s", cfg.Storage.Kind, cfg.InputDir)
		os.Exit(0)
	}

	shutdownMetrics := setupMetrics(cfg, metricsBackendFlg, pushGatewayURLFlg, *verbose)

	ctx := context.Background()
	start := time.Now()

	code := 0
	failed, err := runPipeline(ctx, cfg, log.Default(), *verbose)
	switch {
	case err != nil:
		log.Printf("%v", err)
		code = 1
	case failed > 0:
		code = 1
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	// os.Exit skips defers, so metrics shutdown runs explicitly.
	shutdownMetrics()
	if code != 0 {
		os.Exit(code)
	}
}

// setupMetrics picks a metrics backend: flag, then config. The nop backend
// stays installed when metrics are disabled or initialization fails. The
// returned func performs the backend's clean shutdown.
func setupMetrics(cfg *config.Config, backendFlg, gwURLFlg string, verbose bool) func() {
	backendName := backendFlg
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}

	switch backendName {
	case "pushgateway":
		gwURL := gwURLFlg
		if gwURL == "" {
			gwURL = cfg.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b := prompush.NewBackend(cfg.Job, gwURL)
		log.Printf("metrics: backend=%v url=%v job=%v", backendName, gwURL, cfg.Job)
		metrics.SetBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}

	case "datadog":
		// The Datadog backend buffers metrics, submits periodically, and
		// submits one final time at Close. Long runs show up as a time
		// series instead of a single spike at the end.
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: backend=%v job=%v tags=%v", backendName, cfg.Job, cfg.Metrics.Tags)
		metrics.SetBackend(b)

		// Close stops the periodic flush loop and performs a final Flush.
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return func() {}
}

// runPipeline opens the store and the reject sink, then processes every CSV
// source found in cfg.InputDir. It returns the number of failed sources.
func runPipeline(ctx context.Context, cfg *config.Config, logger batch.Logger, verbose bool) (failed int, err error) {
	sources, err := listSources(cfg.InputDir)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		logger.Printf("no CSV files found in %s; nothing to do", cfg.InputDir)
		return 0, nil
	}

	store, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return 0, fmt.Errorf("open storage %s: %w", cfg.Storage.Kind, err)
	}
	defer store.Close()

	rejects, err := sink.NewDirSink(cfg.RejectedDir)
	if err != nil {
		return 0, fmt.Errorf("open reject sink: %w", err)
	}
	defer func() {
		if cerr := rejects.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close reject sink: %w", cerr)
		}
	}()

	o := &batch.Orchestrator{
		Store:     store,
		Sink:      rejects,
		Validator: validate.New(cfg.Validation.AgeMin, cfg.Validation.AgeMax),
		OpenSource: func(path string) (batch.RecordReader, error) {
			return csv.Open(path, csv.DefaultOptions())
		},
		Logger: logger,
	}

	summaries, err := o.RunBatch(ctx, sources)
	if err != nil {
		return 0, err
	}

	for _, s := range summaries {
		if s.Failed() {
			failed++
			continue
		}
		if verbose {
			logger.Printf("source=%s run_id=%s inserted=%d ignored=%d rejected=%d",
				s.SourceFile, s.Run.RunID, s.Run.InsertedNew, s.Run.IgnoredDuplicates, s.Run.RejectedCount)
		}
	}

	return failed, nil
}

// listSources returns the *.csv files in dir, sorted by name so processing
// order is stable across runs.
func listSources(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
