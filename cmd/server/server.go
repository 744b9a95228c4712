package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/fiscalyze/backend/internal/analysis"
	"github.com/fiscalyze/backend/internal/config"
	"github.com/fiscalyze/backend/internal/engine"
	"github.com/fiscalyze/backend/internal/frontend"
	"github.com/fiscalyze/backend/internal/mock"
	"github.com/fiscalyze/backend/internal/session"
	"github.com/fiscalyze/backend/internal/upload"
	"github.com/fiscalyze/backend/internal/ws"
)

func runServer(opts *serverOptions) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}

	if opts.mock {
		script, err := mock.WriteEngineScript(os.TempDir())
		if err != nil {
			return err
		}
		cfg.Engine.Command = script
		log.Info("using mock engine", "script", script)
	}

	uploads, err := upload.NewStore(cfg.Uploads, log.With("component", "uploads"))
	if err != nil {
		return err
	}

	registry := session.NewRegistry()
	broadcaster := ws.NewBroadcaster(
		cfg.Stream.SendTimeout,
		cfg.Stream.HeartbeatInterval,
		log.With("component", "broadcaster"),
	)
	runner := engine.NewRunner(cfg.Engine, cfg.Stream, log.With("component", "engine"))
	svc := analysis.NewService(registry, uploads, runner, broadcaster, log.With("component", "analysis"))

	var embeddedHandler http.Handler
	if !opts.dev {
		embeddedHandler = frontend.Handler()
	}

	server := ws.NewServer(
		cfg.Server,
		registry,
		uploads,
		svc,
		broadcaster,
		log.With("component", "server"),
		opts.frontendDir,
		opts.dev,
		embeddedHandler,
	)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	return ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux, log)
}
