package cli

import (
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/evcraddock/trackimmo/internal/config"
	"github.com/evcraddock/trackimmo/internal/db"
	"github.com/evcraddock/trackimmo/internal/email"
	"github.com/evcraddock/trackimmo/internal/httpx"
	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/reference"
	"github.com/evcraddock/trackimmo/internal/source/refprice"
)

// env is what a command needs: the configuration, the database and a logger.
type env struct {
	cfg    config.Config
	db     *sqlx.DB
	logger *slog.Logger
}

// loadConfig reads the configuration from --config and applies --db and --dev.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagDB != "" {
		cfg.Database.DSN = flagDB
	}
	if flagDev {
		cfg.Log.Dev = true
	}
	return cfg, nil
}

// openEnv loads the configuration, sets up logging and opens the database.
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logging.Setup(cfg.Log.Dev)
	logger := slog.Default()

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, db: database, logger: logger}, nil
}

// close closes the database, logging any error.
func (e *env) close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("closing database", logging.Err(err))
	}
}

func (e *env) httpClient() *httpx.Client {
	return httpx.New(e.cfg.Sources, e.logger)
}

// newReferenceFetcher builds the commune price scraper. Tests replace it.
var newReferenceFetcher = func(cfg config.Sources, logger *slog.Logger) reference.Fetcher {
	return refprice.NewScraper(cfg, logger)
}

// newSender builds the mail transport. Tests replace it.
var newSender = func(cfg config.Config) email.Sender {
	return email.NewMailer(email.FromConfig(cfg))
}
