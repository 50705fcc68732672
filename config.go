package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"armory-planner/internal/archive"
	"armory-planner/internal/config"
	"armory-planner/internal/cost"
	"armory-planner/internal/history"
	"armory-planner/internal/logging"
	"armory-planner/internal/service"
)

// app is everything a command needs once configuration is resolved.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	svc   *service.Service
	store *history.Store // nil when history.path is empty
}

// newApp loads configuration from path, the environment and flags (either may
// be empty/nil), then builds the logger, catalog, decoder, run archive and
// service in that order.
func newApp(path string, flags *pflag.FlagSet, verbose bool) (*app, error) {
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	dec, err := archive.NewDecoder(cat, cfg.Defaults)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if cfg.History.Path != "" {
		a.store, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		log.Debug("history enabled", zap.String("path", cfg.History.Path))
	}
	a.svc = service.New(dec, a.store, log)
	return a, nil
}

func loadCatalog(path string) (*cost.Catalog, error) {
	if path == "" {
		return cost.DefaultCatalog()
	}
	cat, err := cost.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return cat, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close history", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
