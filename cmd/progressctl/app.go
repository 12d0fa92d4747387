package main

import (
	"context"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/habitquest/progression/config"
	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/application/query"
	"github.com/habitquest/progression/internal/domain/mascot"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/internal/infrastructure/lock"
	"github.com/habitquest/progression/internal/infrastructure/messaging"
	"github.com/habitquest/progression/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression/internal/infrastructure/persistence/postgres"
	redisstore "github.com/habitquest/progression/internal/infrastructure/persistence/redis"
	"github.com/habitquest/progression/internal/interface/http/handlers"
	"github.com/habitquest/progression/pkg/circuitbreaker"
	"github.com/habitquest/progression/pkg/logger"
	"github.com/habitquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app holds the handlers one CLI invocation works with.
type app struct {
	cfg *config.Config
	log *logger.Logger

	// conn is set only for ENGINE_STORE=postgres.
	conn *postgres.Connection

	createUser *command.CreateUserHandler
	record     *command.RecordHabitHandler
	setGoals   *command.SetGoalsHandler
	streaks    *command.EvaluateStreakHandler
	progress   *query.GetProgressHandler

	// health pings the connected backends for "serve".
	health *handlers.CompositeHealthChecker

	closers []func()
}

// Close releases adapters in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// components are the adapters behind the handlers.
type components struct {
	store     progression.Store
	locker    progression.Locker
	publisher shared.EventPublisher
	cache     progression.ProgressCache
	clock     timeutil.Clock
}

// newApp builds the handlers over already opened adapters.
func newApp(cfg *config.Config, log *logger.Logger, c components) *app {
	engine := progression.NewEngine(progression.DefaultLevelTable(), mascot.Default())
	if c.clock == nil {
		c.clock = timeutil.SystemClock{}
	}

	deps := command.Deps{
		Engine:    engine,
		Store:     c.store,
		Locker:    c.locker,
		Publisher: c.publisher,
		Cache:     c.cache,
		Clock:     c.clock,
		Location:  cfg.App.Location(),
		Logger:    log,
	}
	streaks := command.NewEvaluateStreakHandler(deps)

	return &app{
		cfg:        cfg,
		log:        log,
		createUser: command.NewCreateUserHandler(deps),
		record:     command.NewRecordHabitHandler(deps),
		setGoals:   command.NewSetGoalsHandler(deps),
		streaks:    streaks,
		health:     handlers.NewCompositeHealthChecker(cfg.App.Version),
		progress: query.NewGetProgressHandler(query.GetProgressHandlerConfig{
			Engine:   engine,
			Store:    c.store,
			Streaks:  streaks,
			Cache:    c.cache,
			Locker:   c.locker,
			Clock:    c.clock,
			Location: cfg.App.Location(),
			Logger:   log,
		}),
	}
}

// openApp connects the adapters selected by cfg and builds the handlers.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	var (
		c       components
		conn    *postgres.Connection
		closers []func()
		checks  = map[string]handlers.HealthCheckFunc{}
	)
	fail := func(err error) (*app, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	// Store
	switch cfg.Engine.Store {
	case config.StorePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		var err error
		conn, err = postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, conn.Close)
		checks["postgres"] = handlers.NewPingCheck(conn)
		c.store = postgres.NewStore(conn, postgres.StoreConfig{
			RetryAttempts: cfg.Engine.RetryAttempts,
			QueryTimeout:  cfg.Database.QueryTimeout,
			Logger:        log,
		})
	default:
		c.store = memory.New()
	}

	// Local event bus: every event is logged at debug level.
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	closers = append(closers, func() { _ = bus.Close() })
	_ = bus.SubscribeAll(func(e shared.Event) error {
		log.Debug("event",
			logger.String("event_type", string(e.EventType())),
			logger.UserID(e.AggregateID()),
		)
		return nil
	})
	c.publisher = bus

	// Redis: cache, events channel and optionally the lock
	if cfg.Redis.Enabled {
		rCfg := redisstore.DefaultConfig()
		rCfg.URL = cfg.Redis.URL
		rCfg.Host = cfg.Redis.Host
		rCfg.Port = cfg.Redis.Port
		rCfg.Password = cfg.Redis.Password
		rCfg.DB = cfg.Redis.DB
		rCfg.PoolSize = cfg.Redis.PoolSize

		cache, err := redisstore.NewCache(ctx, rCfg)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = cache.Close() })

		checks["redis"] = handlers.NewPingCheck(cache)

		breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
		c.cache = redisstore.NewStateCache(cache, cfg.Redis.CacheTTL).WithBreaker(breaker)
		publisher, err := messaging.NewRedisPublisher(cache.Client(), messaging.RedisPublisherConfig{
			Channel: cfg.Redis.EventsChannel,
			Local:   bus,
		})
		if err != nil {
			return fail(err)
		}
		c.publisher = publisher

		if cfg.Engine.Lock == config.LockRedis {
			c.locker = redisstore.NewUserLocker(cache.Client(), redisstore.UserLockerConfig{
				TTL:  cfg.Redis.LockTTL,
				Wait: cfg.Redis.LockWait,
			})
		}
	}
	if c.locker == nil {
		c.locker = lock.NewKeyedMutex()
	}

	a := newApp(cfg, log, c)
	a.conn = conn
	a.closers = closers
	for name, check := range checks {
		a.health.AddCheck(name, check)
	}
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG AND LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// loadConfig reads the environment and applies flag overrides on top.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	vars := env.ToMap(os.Environ())
	if opts.store != "" {
		vars["ENGINE_STORE"] = opts.store
	}
	if opts.lock != "" {
		vars["ENGINE_LOCK"] = opts.lock
	}
	return config.LoadFrom(vars)
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Text:   cfg.Observability.LogFormat == "text",
	}).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}
