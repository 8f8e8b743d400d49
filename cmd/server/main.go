package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/legisla/internal/api"
	"github.com/RichardoC/legisla/internal/auth"
	"github.com/RichardoC/legisla/internal/chat"
	"github.com/RichardoC/legisla/internal/config"
	"github.com/RichardoC/legisla/internal/db"
	"github.com/RichardoC/legisla/internal/llm"
	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/settings"
	"github.com/RichardoC/legisla/internal/tokens"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: search . and ./config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	for {
		logger, err := newLogger(cfg.Log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		restart, err := run(ctx, cfg, logger)
		if err != nil {
			logger.Error("server stopped with error", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
		if !restart {
			logger.Info("server stopped")
			_ = logger.Sync()
			return
		}

		logger.Info("reloading configuration", zap.String("env_file", cfg.EnvFile))
		cfg = reloadConfig(config.Reload, *configPath, cfg, logger)
		_ = logger.Sync()
	}
}

// reloadConfig re-reads the configuration for a restart. A configuration
// that fails to load or validate leaves the previous one in place.
func reloadConfig(reload func(string) (*config.Config, error), path string, prev *config.Config, logger *zap.Logger) *config.Config {
	cfg, err := reload(path)
	if err != nil {
		logger.Error("invalid configuration, restarting with the previous one", zap.Error(err))
		return prev
	}
	return cfg
}

func newLogger(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// run serves until ctx is cancelled or an admin asks for a restart. It reports
// whether the caller should reload the configuration and start again.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (restart bool, err error) {
	store, err := db.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return false, fmt.Errorf("failed to initialize database (%s): %w", cfg.Database.Driver, err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	m := metrics.New()

	laws := llm.NewLawsClient(cfg.Laws.URL, cfg.Laws.APIKey, cfg.Laws.Model, cfg.Laws.Timeout)
	llmService, err := llm.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, laws, logger, m)
	if err != nil {
		return false, fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	var counter chat.TokenCounter
	if cfg.Chat.MaxQuestionTokens > 0 {
		counter = tokens.New(cfg.OpenAI.Model, logger)
	}
	chatService := chat.NewService(store, llmService, counter, cfg.Chat.MaxQuestionTokens, logger, m)

	restartCh := make(chan struct{}, 1)
	handler := api.NewHandler(api.Deps{
		Store:      store,
		Chat:       chatService,
		Tokens:     auth.NewManager(cfg.JWT.Secret, cfg.JWT.TTL),
		Settings:   settings.New(cfg.EnvFile, config.EnvNames()),
		Metrics:    m,
		Logger:     logger,
		AdminEmail: cfg.Admin.Email,
		Restart: func() {
			select {
			case restartCh <- struct{}{}:
			default:
			}
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("database", cfg.Database.Driver),
			zap.String("model", cfg.OpenAI.Model))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to start server: %w", err)
	case <-restartCh:
		restart = true
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return restart, fmt.Errorf("shutdown: %w", err)
	}
	return restart, nil
}
