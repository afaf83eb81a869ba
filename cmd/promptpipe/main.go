// Command promptpipe watches a folder for prompt batch files and dispatches
// them to configured LLM backends under per-bucket rate limits. It can run
// in the foreground or be installed as a system service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/kardianos/service"

	"github.com/promptpipe/promptpipe/internal/adapter"
	"github.com/promptpipe/promptpipe/internal/config"
	"github.com/promptpipe/promptpipe/internal/history"
	"github.com/promptpipe/promptpipe/internal/job"
	"github.com/promptpipe/promptpipe/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	svcAction := flag.String("service", "", "service action: install, uninstall, start, stop (empty runs in foreground)")
	flag.Parse()

	svcConfig := &service.Config{
		Name:        "promptpipe",
		DisplayName: "promptpipe batch pipeline",
		Description: "Dispatches prompt batch files to rate-limited LLM backends",
	}
	if *configPath != "" {
		svcConfig.Arguments = []string{fmt.Sprintf("--config=%s", *configPath)}
	}

	prg := &program{configPath: *configPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}

	if *svcAction != "" {
		if err := service.Control(s, *svcAction); err != nil {
			log.Fatalf("service %s failed: %v", *svcAction, err)
		}
		fmt.Printf("service %s: ok\n", *svcAction)
		return
	}

	// Interactive invocation runs the watcher directly; under a service
	// manager the same path is driven by Start/Stop.
	if err := s.Run(); err != nil {
		log.Fatalf("service run failed: %v", err)
	}
}

// program adapts the watcher loop to the service lifecycle.
type program struct {
	configPath string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := run(ctx, p.configPath); err != nil && ctx.Err() == nil {
			slog.Error("pipeline stopped", "error", err)
			os.Exit(1)
		}
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

// run wires configuration, adapters, history, and the watcher together and
// blocks until the context is cancelled or a structural error escapes.
func run(ctx context.Context, configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureFolders(); err != nil {
		return err
	}

	limits, err := config.LoadRateLimits(cfg.RateLimitFile)
	if err != nil {
		return fmt.Errorf("load rate limits: %w", err)
	}

	registry, err := adapter.NewRegistry(adapter.ConfigsFromEnv())
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}
	logger.Info("backends registered", "backends", registry.Names())

	if fatal := reportEnvironment(logger, registry); fatal {
		return fmt.Errorf("fatal configuration issues, refusing to start")
	}

	stats := pipeline.NewStats(nil)
	var jobHistory pipeline.JobHistory
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		if seed, err := store.AvgPerQuerySeconds(ctx); err != nil {
			logger.Warn("failed to seed stats from history", "error", err)
		} else if len(seed) > 0 {
			stats = pipeline.NewStats(seed)
			logger.Info("seeded stats from history", "jobs", len(seed))
		}
		jobHistory = store
	}

	dispatcher := &job.Dispatcher{
		Registry:    registry,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	}

	watcher := pipeline.NewWatcher(cfg, limits, dispatcher, stats, jobHistory, logger)
	logger.Info("watching for jobs", "input", cfg.InputDir(),
		"max_queries", cfg.MaxQueries, "max_attempts", cfg.MaxAttempts,
		"parallel", cfg.Parallel, "poll_interval", cfg.PollInterval.String())
	return watcher.Run(ctx)
}

// reportEnvironment logs every adapter readiness issue and reports whether
// any was fatal.
func reportEnvironment(logger *slog.Logger, registry *adapter.Registry) bool {
	fatal := false
	for backend, issues := range registry.CheckEnvironment() {
		for _, is := range issues {
			switch is.Severity {
			case adapter.SeverityFatal:
				logger.Error("backend misconfigured", "backend", backend, "issue", is.Message)
				fatal = true
			default:
				logger.Warn("backend advisory", "backend", backend, "issue", is.Message)
			}
		}
	}
	return fatal
}
