package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cafepos/backend/internal/cache"
	"cafepos/backend/internal/catalog"
	"cafepos/backend/internal/config"
	"cafepos/backend/internal/drawer"
	"cafepos/backend/internal/events"
	"cafepos/backend/internal/httpapi"
	"cafepos/backend/internal/sale"
	"cafepos/backend/internal/service"
	"cafepos/backend/internal/store"
	"cafepos/backend/internal/store/memory"
	pgstore "cafepos/backend/internal/store/postgres"
	"cafepos/backend/internal/store/redisstore"
)

// app is the wired register service plus everything that must be closed
// on shutdown, in reverse order of acquisition.
type app struct {
	handler      http.Handler
	service      *service.Service
	closeStreams func()
	closers      []func() error
}

func (a *app) Close(logger *zap.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	out := &app{}
	fail := func(err error) (*app, error) {
		out.Close(logger)
		return nil, err
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeRepo != nil {
		out.closers = append(out.closers, closeRepo)
	}

	catalogCache := cache.CatalogCache(cache.NewMemoryCatalogCache())
	var drawerStore drawer.Store = repo
	bus := events.NewBus(logger)

	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			logger.Warn("redis unavailable, using in-process cache and repository drawer store", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			out.closers = append(out.closers, client.Close)
			catalogCache = cache.NewRedisCatalogCache(client, "")
			drawerStore = redisstore.NewDrawerStore(client)
			bus.AddSink(events.NewRedisSink(client, cfg.EventsChannel))
			logger.Info("redis enabled", zap.String("addr", cfg.RedisAddr), zap.String("events_channel", cfg.EventsChannel))
		}
	}

	var (
		source  catalog.Source = repo
		gateway sale.Gateway   = sale.NewLocalGateway(repo)
	)
	if cfg.BackendURL != "" {
		client := catalog.NewHTTPClient(cfg.BackendTimeout)
		source = catalog.NewHTTPSource(cfg.BackendURL, client)
		gateway = sale.NewHTTPGateway(cfg.BackendURL, client)
		logger.Info("remote café backend", zap.String("url", cfg.BackendURL))
	} else {
		logger.Info("standalone mode, local repository serves products and sales")
	}

	cat := catalog.New(source, catalog.Options{
		Cache:          catalogCache,
		TTL:            cfg.CatalogTTL(),
		SizeEligible:   cfg.Catalog.SizeEligibleCategories,
		FallbackAddOns: cfg.Catalog.FallbackAddOns,
		Logger:         logger,
	})

	svc := service.New(service.Options{
		Catalog:           cat,
		Gateway:           gateway,
		DrawerStore:       drawerStore,
		Audit:             repo,
		Bus:               bus,
		Logger:            logger,
		LowStockThreshold: cfg.LowStockThreshold,
		Location:          location,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if len(auth.ListOperators(ctx)) == 0 {
		return fail(errors.New("no operator accounts found; seed app_users before starting"))
	}

	out.service = svc
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)
	out.handler = api.Handler()
	out.closeStreams = api.CloseStreams
	return out, nil
}

func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		repo, err := memory.NewSeeded(logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: in-memory")
		return repo, nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
	}
	if err := pg.Migrate(connectCtx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

// openDrawerStore returns the store drawer sessions are persisted in: Redis
// when configured, else Postgres.
func openDrawerStore(ctx context.Context, cfg config.Config) (drawer.Store, func() error, error) {
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return redisstore.NewDrawerStore(client), client.Close, nil
	}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, pg.Close, nil
	}
	return nil, nil, errors.New("drawer sessions are only persisted with REDIS_ADDR or DATABASE_URL set")
}
