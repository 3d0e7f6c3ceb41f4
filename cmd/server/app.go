package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/config"
	"github.com/tus-upload-server/backend/internal/session"
	"github.com/tus-upload-server/backend/internal/storage"
	"github.com/tus-upload-server/backend/internal/upload"
)

// app holds the components every subcommand works with.
type app struct {
	cfg        *config.Config
	configPath string
	log        *logrus.Logger
	repo       session.Repository
	engine     *upload.Engine
}

func openApp(configPath string) (*app, error) {
	if configPath == "" {
		configPath = config.Path()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	blobs, err := storage.NewLocalStore(cfg.Storage.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	repo, err := session.Open(cfg.SessionStore.Driver, cfg.SessionStorePath(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	engine := upload.NewEngine(repo, blobs, upload.Options{
		RetentionWindow: cfg.Storage.Retention,
		PathPrefix:      cfg.Storage.PathPrefix,
		Logger:          log,
	})

	return &app{
		cfg:        cfg,
		configPath: configPath,
		log:        log,
		repo:       repo,
		engine:     engine,
	}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
