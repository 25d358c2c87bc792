// Package config resolves run settings from built-in defaults, an optional
// YAML file and COMFY_* environment variables. CLI flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryabkov82/comfy-batch/internal/logging"
	"github.com/ryabkov82/comfy-batch/internal/promptspec"
	"github.com/ryabkov82/comfy-batch/internal/workflow"
)

// NodeRole tags an extra node class_type with the role it plays in a template
type NodeRole struct {
	Role  string `yaml:"role"`
	Field string `yaml:"field,omitempty"`
}

// Config holds every setting a batch run needs
type Config struct {
	Server       string                     `yaml:"server"`
	TemplatesDir string                     `yaml:"templates_dir"`
	TemplatesS3  workflow.ObjectStoreConfig `yaml:"templates_s3"`

	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	Pacing       time.Duration `yaml:"pacing"`
	Workers      int           `yaml:"workers"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	SubmitRetries        int  `yaml:"submit_retries"`
	BackoffMs            int  `yaml:"backoff_ms"`
	BackoffMaxMs         int  `yaml:"backoff_max_ms"`
	FailOnExecutionError bool `yaml:"fail_on_execution_error"`

	Encoding string `yaml:"encoding"`
	Journal  string `yaml:"journal"`

	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	StatusAddr string `yaml:"status_addr"`
	SentryDSN  string `yaml:"sentry_dsn"`

	// NodeRoles extends the built-in CLIPTextEncode/KSampler classification
	NodeRoles map[string]NodeRole `yaml:"node_roles"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Server:        "127.0.0.1:8188",
		TemplatesDir:  "workflows",
		PollInterval:  2 * time.Second,
		JobTimeout:    600 * time.Second,
		Pacing:        2 * time.Second,
		Workers:       1,
		HTTPTimeout:   30 * time.Second,
		SubmitRetries: 0,
		BackoffMs:     500,
		BackoffMaxMs:  5000,
		Encoding:      promptspec.EncodingUTF8,
		LogLevel:      "info",
		LogFormat:     logging.FormatAuto,
	}
}

// Load returns defaults overlaid with the YAML file at path and then with
// the environment. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from COMFY_* variables that are set
func (c *Config) ApplyEnv() error {
	var err error
	var errs []error
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	c.Server = envString("COMFY_SERVER", c.Server)
	c.TemplatesDir = envString("COMFY_TEMPLATES_DIR", c.TemplatesDir)

	c.TemplatesS3.Endpoint = envString("COMFY_TEMPLATES_S3_ENDPOINT", c.TemplatesS3.Endpoint)
	c.TemplatesS3.Bucket = envString("COMFY_TEMPLATES_S3_BUCKET", c.TemplatesS3.Bucket)
	c.TemplatesS3.Prefix = envString("COMFY_TEMPLATES_S3_PREFIX", c.TemplatesS3.Prefix)
	c.TemplatesS3.AccessKey = envString("COMFY_TEMPLATES_S3_ACCESS_KEY", c.TemplatesS3.AccessKey)
	c.TemplatesS3.SecretKey = envString("COMFY_TEMPLATES_S3_SECRET_KEY", c.TemplatesS3.SecretKey)
	c.TemplatesS3.Region = envString("COMFY_TEMPLATES_S3_REGION", c.TemplatesS3.Region)
	c.TemplatesS3.UseSSL, err = envBool("COMFY_TEMPLATES_S3_USE_SSL", c.TemplatesS3.UseSSL)
	collect(err)

	c.PollInterval, err = envDuration("COMFY_POLL_INTERVAL", c.PollInterval)
	collect(err)
	c.JobTimeout, err = envDuration("COMFY_JOB_TIMEOUT", c.JobTimeout)
	collect(err)
	c.Pacing, err = envDuration("COMFY_PACING", c.Pacing)
	collect(err)
	c.Workers, err = envInt("COMFY_WORKERS", c.Workers)
	collect(err)
	c.HTTPTimeout, err = envDuration("COMFY_HTTP_TIMEOUT", c.HTTPTimeout)
	collect(err)

	c.SubmitRetries, err = envInt("COMFY_SUBMIT_RETRIES", c.SubmitRetries)
	collect(err)
	c.BackoffMs, err = envInt("COMFY_BACKOFF_MS", c.BackoffMs)
	collect(err)
	c.BackoffMaxMs, err = envInt("COMFY_BACKOFF_MAX_MS", c.BackoffMaxMs)
	collect(err)
	c.FailOnExecutionError, err = envBool("COMFY_FAIL_ON_EXECUTION_ERROR", c.FailOnExecutionError)
	collect(err)

	c.Encoding = envString("COMFY_SPEC_ENCODING", c.Encoding)
	c.Journal = envString("COMFY_JOURNAL", c.Journal)
	c.LogFile = envString("COMFY_LOG_FILE", c.LogFile)
	c.LogLevel = envString("COMFY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envString("COMFY_LOG_FORMAT", c.LogFormat)
	c.StatusAddr = envString("COMFY_STATUS_ADDR", c.StatusAddr)
	c.SentryDSN = envString("SENTRY_DSN", c.SentryDSN)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs []error

	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.TemplatesDir == "" && !c.TemplatesS3.Enabled() {
		errs = append(errs, errors.New("templates_dir or templates_s3 is required"))
	}
	if c.TemplatesS3.Endpoint != "" || c.TemplatesS3.Bucket != "" {
		if err := c.TemplatesS3.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("templates_s3: %w", err))
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"poll_interval", c.PollInterval},
		{"job_timeout", c.JobTimeout},
		{"http_timeout", c.HTTPTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.Pacing < 0 {
		errs = append(errs, fmt.Errorf("pacing must not be negative, got %s", c.Pacing))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.SubmitRetries < 0 {
		errs = append(errs, fmt.Errorf("submit_retries must not be negative, got %d", c.SubmitRetries))
	}
	if c.BackoffMs < 0 || c.BackoffMaxMs < 0 {
		errs = append(errs, errors.New("backoff values must not be negative"))
	}

	switch c.Encoding {
	case "", promptspec.EncodingUTF8, promptspec.EncodingUTF16LE, promptspec.EncodingUTF16BE:
	default:
		errs = append(errs, fmt.Errorf("unsupported encoding %q", c.Encoding))
	}

	switch c.LogFormat {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported log_format %q (want auto, text or json)", c.LogFormat))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if _, err := c.Classifier(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Classifier builds the node classifier including any configured NodeRoles
func (c Config) Classifier() (*workflow.Classifier, error) {
	if len(c.NodeRoles) == 0 {
		return workflow.DefaultClassifier(), nil
	}

	classes := make([]string, 0, len(c.NodeRoles))
	for class := range c.NodeRoles {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	extra := make(map[string]workflow.RoleRule, len(classes))
	for _, class := range classes {
		nr := c.NodeRoles[class]
		rule, err := workflow.ParseRoleRule(nr.Role, nr.Field)
		if err != nil {
			return nil, fmt.Errorf("node_roles[%s]: %w", class, err)
		}
		extra[class] = rule
	}
	return workflow.NewClassifier(extra), nil
}
