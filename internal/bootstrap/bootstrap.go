// Package bootstrap opens the stores, provider gateway and engine described
// by an infra.Config. Both the API server and genctl build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genbot/internal/accounts"
	"genbot/internal/catalog"
	"genbot/internal/domain"
	"genbot/internal/engine"
	"genbot/internal/history"
	"genbot/internal/infra"
	"genbot/internal/ledger"
	"genbot/internal/polling"
	"genbot/internal/providers/gateway"
	"genbot/internal/providers/kie"
	"genbot/internal/sqlinline"
)

// Runtime holds the opened stores. Close releases them in reverse order.
type Runtime struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Ledger   *ledger.Ledger
	Accounts domain.AccountDirectory
	History  domain.HistoryStore
	Catalog  *catalog.Catalog

	closers []func()
}

// Open connects the configured stores and loads the model catalog. With a
// DATABASE_URL every store lives in Postgres; without one balances go to the
// file store, accounts stay in memory and history goes to SQLite.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.Catalog, err = catalog.Load(cfg.ModelsPath)
	if err != nil {
		return rt, err
	}

	var primary ledger.Store
	if cfg.DatabaseURL != "" {
		rt.Pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, rt.Pool.Close)

		runner := infra.NewSQLRunner(rt.Pool, logger.With().Str("component", "sql").Logger())
		if _, err = runner.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
			return rt, fmt.Errorf("bootstrap: ensure schema: %w", err)
		}
		primary = ledger.NewPostgresStore(runner)
		rt.Accounts = accounts.NewPostgres(runner)
		rt.History = history.NewPostgresStore(runner)
	} else {
		fileStore, ferr := ledger.NewFileStore(cfg.LedgerFileDir)
		if ferr != nil {
			return rt, ferr
		}
		primary = fileStore
		rt.Accounts = accounts.NewMemory()

		if err = os.MkdirAll(filepath.Dir(cfg.HistoryDBPath), 0o755); err != nil {
			return rt, fmt.Errorf("bootstrap: history dir: %w", err)
		}
		sqliteStore, serr := history.OpenSQLite(cfg.HistoryDBPath)
		if serr != nil {
			return rt, serr
		}
		rt.closers = append(rt.closers, func() { _ = sqliteStore.Close() })
		rt.History = sqliteStore
		logger.Warn().Msg("bootstrap: DATABASE_URL not set, using file ledger, in-memory accounts and sqlite history")
	}

	fallback, err := rt.openFallback(ctx, primary)
	if err != nil {
		return rt, err
	}
	rt.Ledger = ledger.New(primary, fallback, logger)
	return rt, nil
}

func (rt *Runtime) openFallback(ctx context.Context, primary ledger.Store) (ledger.Store, error) {
	cfg := rt.Config
	switch cfg.LedgerFallback {
	case "redis":
		client, err := ledger.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		return ledger.NewRedisStore(client, ""), nil
	default:
		if primary.Name() == "file" {
			return nil, nil
		}
		return ledger.NewFileStore(cfg.LedgerFileDir)
	}
}

// Gateway builds the configured provider gateway.
func (rt *Runtime) Gateway() (gateway.Gateway, error) {
	cfg := rt.Config
	return gateway.NewFactory(gateway.FactoryOptions{
		UseMock: cfg.UseMockProvider,
		Kie: kie.Options{
			APIKey:            cfg.KieAPIKey,
			BaseURL:           cfg.KieBaseURL,
			CallbackURL:       cfg.KieCallbackURL,
			RequestTimeout:    cfg.KieTimeout,
			RequestsPerSecond: cfg.KieRPS,
		},
		Logger: rt.Logger,
	}).Gateway()
}

// Engine wires an engine over the runtime's stores.
func (rt *Runtime) Engine(gw gateway.Gateway) (*engine.Engine, error) {
	cfg := rt.Config
	return engine.New(engine.Options{
		Gateway:  gw,
		Catalog:  rt.Catalog,
		Accounts: rt.Accounts,
		Ledger:   rt.Ledger,
		History:  rt.History,
		Poll: polling.Config{
			InitialDelay: cfg.PollInitialDelay,
			Multiplier:   cfg.PollMultiplier,
			MaxDelay:     cfg.PollMaxDelay,
			MaxPolls:     cfg.PollMaxPolls,
		},
		DedupWindow:         cfg.DedupWindow,
		MaxActivePerUser:    cfg.MaxActivePerUser,
		AdminPeriodLimit:    cfg.AdminPeriodLimit,
		ChargeMode:          cfg.ChargeMode,
		MaxRecoveryAttempts: cfg.MaxRecoveryTries,
		CallbackURL:         cfg.KieCallbackURL,
		Logger:              rt.Logger,
	})
}

// Close releases every opened resource.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
