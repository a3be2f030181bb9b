package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/store"
	"llmlatencybench/internal/telemetry"
	"llmlatencybench/server"
)

func main() {
	var opts options
	pflag.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to a YAML or JSON run configuration")
	pflag.BoolVar(&opts.List, "list", false, "List providers, their model aliases and credential state")
	pflag.StringVarP(&opts.Format, "format", "f", "", "Output format: json or yaml (default markdown table)")
	pflag.BoolVar(&opts.NoArtifacts, "no-artifacts", false, "Do not write CSV and markdown artifacts")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(exitOK)
	}

	os.Exit(run(opts))
}

func run(opts options) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		return exitConfig
	}

	log := logger.New(cfg.LogMode)
	defer log.Sync()

	if applied, err := server.ApplyCloudFoundryBindings(cfg); err != nil {
		log.Warn("ignoring VCAP_SERVICES: %v", err)
	} else if len(applied) > 0 {
		log.Info("applied Cloud Foundry bindings: %v", applied)
	}

	if opts.List {
		printCatalog(os.Stdout, provider.Catalog(cfg))
		return exitOK
	}

	if opts.ConfigPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		pflag.PrintDefaults()
		return exitConfig
	}

	runCfg, err := benchmark.LoadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("configuration error:"), err)
		return exitConfig
	}
	// fail fast on an unusable format, before any network call
	if _, err := formatReport(&benchmark.Report{}, opts.Format); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupOTelSDK(ctx, cfg)
	if err != nil {
		log.Warn("OpenTelemetry disabled: %v", err)
	} else {
		defer shutdown(context.Background())
	}

	rs, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open %s store: %v", cfg.StoreDriver, err)
		return exitFailure
	}
	defer rs.Close()

	m := telemetry.Default()
	orchOpts := []benchmark.Option{
		benchmark.WithSink(results.NewSink(rs, results.WithSinkLogger(log), results.WithSinkMetrics(m), results.WithWriteTimeout(cfg.StoreWriteTimeout))),
		benchmark.WithLogger(log),
		benchmark.WithMetrics(m),
		benchmark.WithObserver(newProgressObserver(os.Stderr, runCfg)),
	}
	if !opts.NoArtifacts {
		orchOpts = append(orchOpts, benchmark.WithArtifacts(&results.ArtifactWriter{Dir: cfg.ArtifactDir}))
	}

	orch := benchmark.New(runCfg, benchmark.RegistryFactory(cfg, log), orchOpts...)
	report, err := orch.Run(ctx)
	switch {
	case benchmark.IsConfigError(err):
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("configuration error:"), err)
		return exitConfig
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "%s run %s interrupted, nothing was exported\n", color.YellowString("cancelled:"), orch.RunID())
		return exitCancelled
	case err != nil:
		log.Error("run failed: %v", err)
		return exitFailure
	}

	output, err := formatReport(report, opts.Format)
	if err != nil {
		log.Error("error formatting benchmark report: %v", err)
		return exitFailure
	}
	fmt.Println(output)

	if len(report.ExportErrors) > 0 {
		return exitFailure
	}
	return exitOK
}
