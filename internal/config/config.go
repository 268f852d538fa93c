// Package config builds the single immutable configuration value used by every
// trackimmo component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings. Build it once with Load and pass it down.
type Config struct {
	Database Database `yaml:"database"`
	Sources  Sources  `yaml:"sources"`
	Resolver Resolver `yaml:"resolver"`
	Enrich   Enrich   `yaml:"enrich"`
	Collect  Collect  `yaml:"collect"`
	SMTP     SMTP     `yaml:"smtp"`
	Report   Report   `yaml:"report"`
	Log      Log      `yaml:"log"`
}

// Database selects the storage backend.
type Database struct {
	Driver string `yaml:"driver" env:"TRACKIMMO_DB_DRIVER" validate:"oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn" env:"TRACKIMMO_DB_DSN" validate:"required"`
}

// Sources holds upstream endpoints and the shared HTTP policy.
type Sources struct {
	DVFURL          string        `yaml:"dvf_url" env:"TRACKIMMO_DVF_URL" validate:"required,url"`
	BANURL          string        `yaml:"ban_url" env:"TRACKIMMO_BAN_URL" validate:"required,url"`
	DPEURL          string        `yaml:"dpe_url" env:"TRACKIMMO_DPE_URL" validate:"required,url"`
	ReferenceURL    string        `yaml:"reference_url" env:"TRACKIMMO_REFERENCE_URL" validate:"required,url"`
	UserAgent       string        `yaml:"user_agent" env:"TRACKIMMO_USER_AGENT"`
	Timeout         time.Duration `yaml:"timeout" env:"TRACKIMMO_HTTP_TIMEOUT" validate:"gt=0"`
	MaxAttempts     int           `yaml:"max_attempts" env:"TRACKIMMO_HTTP_MAX_ATTEMPTS" validate:"gte=1"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" env:"TRACKIMMO_HTTP_RETRY_BASE_DELAY" validate:"gt=0"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" env:"TRACKIMMO_HTTP_RETRY_MAX_DELAY" validate:"gtefield=RetryBaseDelay"`
	MinInterval     time.Duration `yaml:"min_interval" env:"TRACKIMMO_HTTP_MIN_INTERVAL" validate:"gte=0"`
	ChromeBin       string        `yaml:"chrome_bin" env:"CHROME_BIN"`
	LogHTTPRequests bool          `yaml:"log_http_requests" env:"TRACKIMMO_LOG_HTTP"`
}

// Resolver tunes address resolution.
type Resolver struct {
	MinConfidence float64 `yaml:"min_confidence" env:"TRACKIMMO_MIN_CONFIDENCE" validate:"gte=0,lte=1"`
	Candidates    int     `yaml:"candidates" env:"TRACKIMMO_BAN_CANDIDATES" validate:"gte=1,lte=20"`
}

// Enrich tunes the enrichment batch.
type Enrich struct {
	Workers    int  `yaml:"workers" env:"TRACKIMMO_ENRICH_WORKERS" validate:"gte=1"`
	SkipEnergy bool `yaml:"skip_energy" env:"TRACKIMMO_SKIP_ENERGY"`
	// FetchMissing scrapes commune prices for pending sales in communes
	// without a commune-level reference before enriching them.
	FetchMissing bool `yaml:"fetch_missing_references" env:"TRACKIMMO_FETCH_MISSING_REFERENCES"`
}

// Collect holds the default fetch window used when no flags are given.
type Collect struct {
	Communes    []string `yaml:"communes" env:"TRACKIMMO_COMMUNES" envSeparator:","`
	MonthsBack  int      `yaml:"months_back" env:"TRACKIMMO_MONTHS_BACK" validate:"gte=1"`
	Parallelism int      `yaml:"parallelism" env:"TRACKIMMO_COLLECT_PARALLELISM" validate:"gte=1"`
}

// SMTP holds outgoing mail settings.
type SMTP struct {
	Host string `yaml:"host" env:"SMTP_SERVER"`
	Port string `yaml:"port" env:"SMTP_PORT"`
	User string `yaml:"user" env:"SMTP_EMAIL"`
	Pass string `yaml:"-" env:"SMTP_PASSWORD"`
	From string `yaml:"from" env:"SMTP_FROM"`
}

// Report holds recipient and branding settings.
type Report struct {
	CustomersDir string `yaml:"customers_dir" env:"TRACKIMMO_CUSTOMERS_DIR" validate:"required"`
	LogoURL      string `yaml:"logo_url" env:"LOGO_URL"`
	TestEmail    string `yaml:"test_email" env:"TEST_EMAIL" validate:"omitempty,email"`
	SenderName   string `yaml:"sender_name" env:"TRACKIMMO_SENDER_NAME"`
}

// Log controls the slog handler.
type Log struct {
	Dev bool `yaml:"dev" env:"TRACKIMMO_DEV"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Driver: "sqlite3"},
		Sources: Sources{
			DVFURL:         "https://files.data.gouv.fr/geo-dvf/latest/csv",
			BANURL:         "https://api-adresse.data.gouv.fr/search/",
			DPEURL:         "https://data.ademe.fr/data-fair/api/v1/datasets",
			ReferenceURL:   "https://www.meilleursagents.com/prix-immobilier",
			UserAgent:      "TrackImmo/1.0",
			Timeout:        30 * time.Second,
			MaxAttempts:    5,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  32 * time.Second,
			MinInterval:    100 * time.Millisecond,
		},
		Resolver: Resolver{MinConfidence: 0.6, Candidates: 5},
		Enrich:   Enrich{Workers: 8},
		Collect:  Collect{MonthsBack: 12, Parallelism: 4},
		SMTP:     SMTP{Port: "465"},
		Report:   Report{SenderName: "TrackImmo"},
	}
}

// DefaultPath returns the default config file path: ~/.config/trackimmo/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "trackimmo", "config.yaml"), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from defaults, the YAML file at path (missing
// file is not an error), a .env file in the working directory and the
// environment, in that order. An empty path means DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}

	if err := cfg.fill(); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fill derives values that depend on the home directory.
func (c *Config) fill() error {
	if c.Database.DSN != "" && c.Report.CustomersDir != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("finding home directory: %w", err)
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(home, ".trackimmo", "trackimmo.db")
	}
	if c.Report.CustomersDir == "" {
		c.Report.CustomersDir = filepath.Join(home, ".trackimmo", "customers")
	}
	return nil
}

// SMTPConfigured returns true if outgoing mail can be sent.
func (c Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.From != ""
}
