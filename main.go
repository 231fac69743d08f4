package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dulus-bm/server/internal/agent/dispatch"
	"github.com/dulus-bm/server/internal/agent/llm"
	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/observers"
	"github.com/dulus-bm/server/internal/agent/repo"
	"github.com/dulus-bm/server/internal/agent/summary"
	"github.com/dulus-bm/server/internal/agent/tools"
	apihttp "github.com/dulus-bm/server/internal/api/http"
	"github.com/dulus-bm/server/internal/core"
	logx "github.com/dulus-bm/server/pkg/logger"
	pkgredis "github.com/dulus-bm/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the command server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config
	Store model.StoreConfig
	HTTP  model.HTTPConfig

	// Command agent
	Model    model.ModelConfig
	Dispatch model.DispatcherConfig
	Summary  model.SummaryConfig
	Prompt   model.PromptConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Env), Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg AppConfig) error {
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := tools.NewCatalog(store)
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}

	chatModel, err := llm.NewChatModel(ctx, cfg.Model)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(cfg.Dispatch, cfg.Prompt, catalog, chatModel, cfg.Model.Model,
		dispatch.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	summarizer, err := summary.New(cfg.Summary, cfg.Prompt, store, chatModel, cfg.Model.Model,
		summary.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return fmt.Errorf("build summarizer: %w", err)
	}

	h := apihttp.NewRouter(apihttp.NewHandler(dispatcher, summarizer, store, store), cfg.HTTP).Build(cfg.HTTP.Addr)

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", cfg.HTTP.Addr).Str("store", cfg.Store.Backend).Str("model", cfg.Model.Model).Msg("command server listening")
		errCh <- h.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg AppConfig) (model.Store, func(), error) {
	opts := repo.OptionsFromConfig(cfg.Store)
	switch cfg.Store.Backend {
	case "memory":
		logx.Warn().Msg("using in-memory store; data is lost on restart")
		return repo.NewMemoryStore(opts), func() {}, nil
	case "redis", "":
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise redis client: %w", err)
		}
		return repo.NewRedisStore(rdb, opts), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
}
