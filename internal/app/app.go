package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"openchat/backend/internal/api"
	"openchat/backend/internal/auth"
	"openchat/backend/internal/config"
	"openchat/backend/internal/database"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/provider"
	"openchat/backend/internal/registry"
	"openchat/backend/internal/repository"
	"openchat/backend/internal/service"
)

const (
	shutdownTimeout     = 15 * time.Second
	limiterSweepEvery   = 5 * time.Minute
	runtimeRetryBackoff = 3 * time.Second
)

// App holds the wired application.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Server  *http.Server
	Chat    *service.ChatService
	Runtime llm.LLMProvider
	Limiter *api.RateLimiter
	Tokens  *auth.Tokens
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	runtime   llm.LLMProvider
	providers *provider.Registry
}

// WithRuntime replaces the Ollama client.
func WithRuntime(p llm.LLMProvider) Option {
	return func(o *options) { o.runtime = p }
}

// WithProviders replaces the default external provider registry.
func WithProviders(r *provider.Registry) Option {
	return func(o *options) { o.providers = r }
}

// NewApp opens the configured store and wires services, handlers and the
// HTTP server.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	repo, err := a.openStore()
	if err != nil {
		return nil, err
	}

	a.Runtime = o.runtime
	if a.Runtime == nil {
		a.Runtime = llm.NewOllamaProvider(cfg.OllamaURL,
			llm.WithIdleTimeout(cfg.StreamIdleTimeout),
			llm.WithTotalTimeout(cfg.StreamTotalTimeout),
			llm.WithPromptLimit(cfg.RuntimePromptMaxLength),
		)
	}
	providers := o.providers
	if providers == nil {
		providers = provider.NewDefaultRegistry()
	}

	models := registry.New(repo, providers,
		registry.WithTTL(cfg.ModelCacheTTL),
		registry.WithFallback(cfg.FallbackModels),
	)
	keyService := service.NewKeyService(repo, providers, cfg.ProviderKeys(), cfg.ValidateKeys)
	modelService := service.NewModelService(repo, models, a.Runtime)
	a.Chat = service.NewChatService(repo, models, a.Runtime, providers, keyService, service.ChatLimits{
		PromptMaxLength:        cfg.PromptMaxLength,
		RuntimePromptMaxLength: cfg.RuntimePromptMaxLength,
		HistoryLimit:           cfg.HistoryLimit,
		ProviderTimeout:        cfg.StreamTotalTimeout,
	})

	a.Tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	a.Limiter = api.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst)

	router := api.NewRouter(api.Handlers{
		Chat:    api.NewChatHandler(a.Chat, cfg.HeartbeatInterval),
		Models:  api.NewModelHandler(modelService),
		Keys:    api.NewKeyHandler(keyService),
		Tokens:  a.Tokens,
		Limiter: a.Limiter,
	})

	port := cfg.AppPort
	if port == 0 {
		port = 8000
	}
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

func (a *App) openStore() (repository.Repository, error) {
	switch a.Config.StoreDriver {
	case "redis":
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		if err := a.Redis.Ping(context.Background()).Err(); err != nil {
			_ = a.Redis.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("Successfully connected to Redis.", "addr", a.Config.RedisAddr)
		return repository.NewRedisRepository(a.Redis), nil
	default:
		db, err := database.InitDB(a.Config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.DB = db
		slog.Info("Successfully connected to SQLite database.", "path", a.Config.DatabasePath)
		return repository.NewSQLiteRepository(db), nil
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully and waits for background stream persistence.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return err
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.Limiter.Run(sweepCtx, limiterSweepEvery)

	// Request contexts hang off streamCtx so shutdown can end open streams.
	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	a.Server.BaseContext = func(net.Listener) context.Context { return streamCtx }

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", ln.Addr().String())
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	// An open stream never goes idle, so Shutdown would only return at the
	// deadline. Cancelled turns persist their partial text before handlers exit.
	stopStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	a.Chat.Wait()
	return nil
}

// Close releases the store connections.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

// Run loads configuration and serves until SIGINT or SIGTERM. It returns the
// process exit code.
func Run(configFile string) int {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)
	logConfigSource()

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("Failed to close store connection", "error", err)
		}
	}()

	if cfg.WaitForRuntime {
		if err := waitForRuntime(ctx, a.Runtime, runtimeRetryBackoff); err != nil {
			slog.Info("Stopped before the runtime became ready")
			return 0
		}
	}

	if err := a.Serve(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		return 1
	}
	return 0
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// waitForRuntime pings the runtime until it answers or ctx is done.
func waitForRuntime(ctx context.Context, runtime llm.LLMProvider, backoff time.Duration) error {
	slog.Info("Waiting for Ollama to be ready...")
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := runtime.Ping(pingCtx)
		cancel()
		if err == nil {
			slog.Info("Ollama is ready.")
			return nil
		}
		slog.Debug("Ollama not ready yet, retrying", "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
