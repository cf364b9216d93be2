package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/linkkeeper/codegen"
	"github.com/sundayezeilo/linkkeeper/internal/config"
	"github.com/sundayezeilo/linkkeeper/internal/console"
	"github.com/sundayezeilo/linkkeeper/internal/idgen"
	"github.com/sundayezeilo/linkkeeper/internal/metrics"
	"github.com/sundayezeilo/linkkeeper/internal/resolver"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
	"github.com/sundayezeilo/linkkeeper/internal/store/cache"
	"github.com/sundayezeilo/linkkeeper/internal/store/memory"
	"github.com/sundayezeilo/linkkeeper/internal/store/postgres"
	"github.com/sundayezeilo/linkkeeper/internal/store/redisstore"
)

// Options carries what the command line decides. Zero values select the
// process defaults.
type Options struct {
	// EnvFile is loaded before the environment is read. A missing file is
	// an error; without it, .env is tried in development and test.
	EnvFile string

	In     io.Reader // default os.Stdin
	Out    io.Writer // default os.Stdout
	ErrOut io.Writer // logs and browser output; default os.Stderr
}

func (o Options) withDefaults() Options {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.ErrOut == nil {
		o.ErrOut = os.Stderr
	}
	return o
}

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DBPool  *pgxpool.Pool
	Redis   *redis.Client
	Service shortener.Service
	Console *console.Console
	Metrics *metrics.Recorder

	users *cache.Users
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context, opts Options) (*App, error) {
	opts = opts.withDefaults()

	if err := loadEnv(opts.EnvFile); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(opts.ErrOut, cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"store", cfg.Store.Driver,
		"resolver", cfg.Resolver.Mode,
	)

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	stores, err := a.openStores(ctx)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	gen, err := newCodeGenerator(cfg.Generator)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to create code generator: %w", err)
	}

	version, err := idgen.ParseVersion(cfg.App.IDVersion)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	svc, err := shortener.NewService(stores,
		shortener.Limits{MaxClicks: cfg.Link.MaxClicks, MaxTTL: cfg.Link.MaxTTL.Std()},
		&shortener.ServiceConfig{
			Generator: gen,
			IDs:       idgen.New(version),
			Resolver:  newResolver(cfg.Resolver, opts),
			Observer:  a.Metrics,
			Logger:    logger,
		},
	)
	if err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	a.Service = svc
	a.Console = console.New(svc, opts.In, opts.Out, &console.Config{Logger: logger})

	logger.Info("application initialized",
		"max_clicks", cfg.Link.MaxClicks,
		"max_ttl", cfg.Link.MaxTTL.Std().String(),
		"code_strategy", cfg.Generator.Strategy,
	)

	return a, nil
}

// Start runs the interactive console until quit, end of input or ctx
// cancellation.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("console starting")

	if err := a.Console.Run(ctx); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

// Sweep runs one eviction pass outside the console.
func (a *App) Sweep(ctx context.Context) (shortener.SweepReport, error) {
	report, err := a.Service.Sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep failed: %w", err)
	}

	a.Logger.Info("sweep finished", "scanned", report.Scanned, "evicted", len(report.Evicted))
	return report, nil
}

// Shutdown publishes the metrics and releases every connection.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	var err error
	if path := a.Config.App.MetricsFile; path != "" && a.Metrics != nil {
		if werr := a.Metrics.WriteTextfile(path); werr != nil {
			a.Logger.Error("failed to write metrics", "path", path, "error", werr)
			err = fmt.Errorf("failed to write metrics: %w", werr)
		}
	}

	if a.users != nil {
		a.users.Close()
	}

	if a.Redis != nil {
		if cerr := a.Redis.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close redis: %w", cerr)
		}
		a.Logger.Info("redis connection closed")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	return err
}

// loadEnv loads envFile when given, otherwise .env in non-production
// environments.
func loadEnv(envFile string) error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}

	env := os.Getenv("APP_ENV")
	if env == "" || env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
// Logs go to w so they never interleave with the console on stdout.
func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

// openStores connects the configured driver and, for the shared drivers,
// fronts the user store with a cache.
func (a *App) openStores(ctx context.Context) (shortener.Stores, error) {
	cfg := a.Config

	var stores shortener.Stores
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := connectDatabase(ctx, cfg, a.Logger)
		if err != nil {
			return shortener.Stores{}, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DBPool = pool

		if err := postgres.Migrate(ctx, pool); err != nil {
			return shortener.Stores{}, fmt.Errorf("failed to migrate database: %w", err)
		}
		stores = postgres.New(pool)

	case config.DriverRedis:
		rdb, err := connectRedis(ctx, cfg, a.Logger)
		if err != nil {
			return shortener.Stores{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = rdb
		stores = redisstore.New(rdb, cfg.Redis.KeyPrefix)

	default:
		return memory.New(), nil
	}

	if cfg.Store.UserCacheSize > 0 {
		users, err := cache.NewUsers(stores.Users, cfg.Store.UserCacheSize)
		if err != nil {
			return shortener.Stores{}, fmt.Errorf("failed to create user cache: %w", err)
		}
		a.users = users
		stores.Users = users
	}
	return stores, nil
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis opens and verifies a Redis client.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	logger.Info("connecting to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established")

	return rdb, nil
}

// newCodeGenerator applies the configured shape; empty fields keep the
// generator defaults.
func newCodeGenerator(cfg config.GeneratorConfig) (codegen.Generator, error) {
	var opts []codegen.Option
	if cfg.Prefix != "" {
		opts = append(opts, codegen.WithPrefix(cfg.Prefix))
	}
	if cfg.Alphabet != "" {
		opts = append(opts, codegen.WithAlphabet(cfg.Alphabet))
	}
	if cfg.Length > 0 {
		opts = append(opts, codegen.WithLength(cfg.Length))
	}

	if cfg.Strategy == config.StrategySqids {
		return codegen.NewSqids(opts...)
	}
	return codegen.New(opts...), nil
}

func newResolver(cfg config.ResolverConfig, opts Options) shortener.Resolver {
	if cfg.Mode == config.ResolverBrowser {
		return resolver.NewBrowser(opts.ErrOut)
	}
	return resolver.NewPrinter(opts.Out)
}
