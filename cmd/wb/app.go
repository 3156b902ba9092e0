package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/channel/waha"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/db"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/report"
	"github.com/zulandar/waybill/internal/session"
	"github.com/zulandar/waybill/internal/teardown"
	"gorm.io/gorm"
)

// loadConfig reads the config file. A missing file at the default path
// falls back to built-in defaults so a bare `wb serve` works.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// connectFromConfig loads config and opens the migrated record store.
func connectFromConfig(configPath string, errOut io.Writer) (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	log := logging.New(cfg.Log, errOut)
	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return nil, log, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, log, nil, err
	}
	return cfg, log, gormDB, nil
}

// app is the fully wired sending stack.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *gorm.DB
	lifecycle *session.Lifecycle
	teardown  *teardown.Scheduler
	engine    *dispatch.Engine
	history   *dispatch.History
	media     *media.Store
	records   *records.Store
}

// newApp wires the session, teardown, dispatch engine and stores. factory
// overrides the channel bridge; nil uses the configured bridge.
func newApp(cfg *config.Config, log zerolog.Logger, gormDB *gorm.DB, factory session.Factory) (*app, error) {
	if factory == nil {
		factory = waha.NewFactory(waha.ConfigFrom(cfg.Channel), log)
	}
	lc, err := session.New(session.Options{
		Factory:     factory,
		Logger:      log,
		MaxRetries:  cfg.Session.MaxRetries,
		RetryDelay:  cfg.Session.RetryDelay(),
		InitTimeout: cfg.Session.InitTimeout(),
	})
	if err != nil {
		return nil, err
	}
	td := teardown.New(lc, cfg.Dispatch.TeardownDelay(), log)

	ms, err := media.NewStore(cfg.Media, log)
	if err != nil {
		return nil, err
	}
	reporters, err := report.FromConfig(cfg.Report, log)
	if err != nil {
		return nil, err
	}
	history := dispatch.NewHistory(gormDB)
	engine, err := dispatch.New(dispatch.ConfigFrom(cfg.Dispatch, cfg.Reminder.Currency), dispatch.Deps{
		Session:   lc,
		Teardown:  td,
		LoadMedia: ms.Load,
		Recorder:  history,
		Reporters: reporters,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		log:       log,
		db:        gormDB,
		lifecycle: lc,
		teardown:  td,
		engine:    engine,
		history:   history,
		media:     ms,
		records:   records.NewStore(gormDB),
	}, nil
}
