package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/comfy-batch/internal/batch"
	"github.com/ryabkov82/comfy-batch/internal/client"
	"github.com/ryabkov82/comfy-batch/internal/config"
	"github.com/ryabkov82/comfy-batch/internal/httpapi"
	"github.com/ryabkov82/comfy-batch/internal/logging"
	"github.com/ryabkov82/comfy-batch/internal/promptspec"
	"github.com/ryabkov82/comfy-batch/internal/style"
	"github.com/ryabkov82/comfy-batch/internal/version"
	"github.com/ryabkov82/comfy-batch/internal/workflow"
)

func runBatch(cmd *cobra.Command, specPath string, flags *runFlags, stdout, stderr io.Writer) error {
	if err := promptspec.ValidateSpecPath(specPath); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", version.Name, err)
		return errExit
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOut := stderr
	if cfg.LogFile != "" {
		w, err := logging.OpenFile(stderr, cfg.LogFile)
		if err != nil {
			return err
		}
		defer w.Close()
		logOut = w
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(logOut, level, cfg.LogFormat)

	reporter, err := newFailureReporter(cfg.SentryDSN, logger)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		reporter.CaptureError(err)
		return err
	}

	parser, err := promptspec.NewParser(cfg.Encoding, logger)
	if err != nil {
		return err
	}

	timings := batch.NewTimings()
	queue := client.NewQueue(client.QueueConfig{
		Server:               cfg.Server,
		HTTPTimeout:          cfg.HTTPTimeout,
		PollInterval:         cfg.PollInterval,
		MaxRetries:           cfg.SubmitRetries,
		BackoffMs:            cfg.BackoffMs,
		BackoffMaxMs:         cfg.BackoffMaxMs,
		FailOnExecutionError: cfg.FailOnExecutionError,
		Logger:               logger,
		Recorder:             timings,
	})
	logger.Info("connected queue client", "server", client.BaseURL(cfg.Server), "clientId", queue.ClientID())

	var journal *batch.Journal
	if cfg.Journal != "" {
		journal, err = batch.OpenJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	orch, err := batch.New(batch.Options{
		Parser:     parser,
		Templates:  registry,
		Queue:      queue,
		Workers:    cfg.Workers,
		Pacing:     cfg.Pacing,
		JobTimeout: cfg.JobTimeout,
		Journal:    journal,
		OnFailure:  reporter.UnitFailed,
		Timings:    timings,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		apiKey := os.Getenv(httpapi.APIKeyEnv)
		router := httpapi.SetupRouter(httpapi.NewHandler(orch, logger), apiKey)
		srv, err := httpapi.Start(cfg.StatusAddr, router, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(5 * time.Second); err != nil {
				logger.Warn("status api shutdown", "error", err)
			}
		}()
	}

	tally, runErr := orch.Run(ctx, specPath)
	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		reporter.CaptureError(runErr)
		return runErr
	}

	fmt.Fprintln(stdout, style.Summary(tally, interrupted))
	logger.Info("stage timings", "timings", timings.String())

	if interrupted {
		return errExit
	}
	return nil
}

// buildRegistry discovers templates from the local directory and, when
// configured, the object store. Listing errors are logged; units that need
// a missing template fail individually.
func buildRegistry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*workflow.Registry, error) {
	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}
	registry := workflow.NewRegistry(classifier, logger)

	var sources []workflow.Source
	if cfg.TemplatesDir != "" {
		sources = append(sources, workflow.NewDirSource(cfg.TemplatesDir))
	}
	if cfg.TemplatesS3.Enabled() {
		store, err := workflow.NewMinIOStore(cfg.TemplatesS3)
		if err != nil {
			return nil, fmt.Errorf("template object store: %w", err)
		}
		sources = append(sources, workflow.NewObjectSource(store, cfg.TemplatesS3.Bucket, cfg.TemplatesS3.Prefix))
	}

	n, err := registry.Discover(ctx, sources...)
	if err != nil {
		logger.Error("template discovery incomplete", "error", err)
	}
	logger.Info("templates discovered", "count", n, "jobTypes", registry.Names())
	return registry, nil
}
