package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/comfy-batch/internal/config"
)

// runFlags mirrors the config fields that can be overridden per run
type runFlags struct {
	configPath string
	color      string

	server               string
	templatesDir         string
	workers              int
	pacing               time.Duration
	jobTimeout           time.Duration
	pollInterval         time.Duration
	httpTimeout          time.Duration
	submitRetries        int
	failOnExecutionError bool
	encoding             string
	journal              string
	logFile              string
	logLevel             string
	logFormat            string
	statusAddr           string
}

func (f *runFlags) register(cmd *cobra.Command) {
	def := config.Default()
	fs := cmd.Flags()

	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&f.color, "color", "auto", "Color output: always, auto, never")

	fs.StringVar(&f.server, "server", def.Server, "ComfyUI server address (host:port or URL)")
	fs.StringVar(&f.templatesDir, "templates-dir", def.TemplatesDir, "Directory of workflow templates")
	fs.IntVar(&f.workers, "workers", def.Workers, "Units processed concurrently")
	fs.DurationVar(&f.pacing, "pacing", def.Pacing, "Minimum spacing between submissions (0 disables)")
	fs.DurationVar(&f.jobTimeout, "job-timeout", def.JobTimeout, "How long to wait for one unit to complete")
	fs.DurationVar(&f.pollInterval, "poll-interval", def.PollInterval, "History polling interval")
	fs.DurationVar(&f.httpTimeout, "http-timeout", def.HTTPTimeout, "Timeout of a single HTTP request")
	fs.IntVar(&f.submitRetries, "submit-retries", def.SubmitRetries, "Retries for a failed submission")
	fs.BoolVar(&f.failOnExecutionError, "fail-on-execution-error", def.FailOnExecutionError, "Treat a history record with an error status as failed")
	fs.StringVar(&f.encoding, "encoding", def.Encoding, "Spec file encoding: utf-8, utf-16le, utf-16be")
	fs.StringVar(&f.journal, "journal", def.Journal, "Append one NDJSON record per finished unit to this file")
	fs.StringVar(&f.logFile, "log-file", def.LogFile, "Also write logs to this file")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", def.LogFormat, "Log format: auto, text, json")
	fs.StringVar(&f.statusAddr, "status-addr", def.StatusAddr, "Serve the status API on this address")
}

// apply overlays flags the user set explicitly
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("server") {
		cfg.Server = f.server
	}
	if changed("templates-dir") {
		cfg.TemplatesDir = f.templatesDir
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("pacing") {
		cfg.Pacing = f.pacing
	}
	if changed("job-timeout") {
		cfg.JobTimeout = f.jobTimeout
	}
	if changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if changed("http-timeout") {
		cfg.HTTPTimeout = f.httpTimeout
	}
	if changed("submit-retries") {
		cfg.SubmitRetries = f.submitRetries
	}
	if changed("fail-on-execution-error") {
		cfg.FailOnExecutionError = f.failOnExecutionError
	}
	if changed("encoding") {
		cfg.Encoding = f.encoding
	}
	if changed("journal") {
		cfg.Journal = f.journal
	}
	if changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("status-addr") {
		cfg.StatusAddr = f.statusAddr
	}
}
