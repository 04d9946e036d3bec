package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"genbot/internal/infra"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	return &infra.Config{
		AppEnv:           "test",
		LedgerFallback:   "file",
		LedgerFileDir:    filepath.Join(dir, "ledger"),
		HistoryDBPath:    filepath.Join(dir, "data", "history.db"),
		ModelsPath:       filepath.Join("..", "..", "configs", "models.yaml"),
		UseMockProvider:  true,
		MaxActivePerUser: 3,
		ChargeMode:       infra.ChargeOnSuccess,
	}
}

func TestOpenWithoutDatabase(t *testing.T) {
	rt, err := Open(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if rt.Pool != nil || rt.Redis != nil {
		t.Fatalf("no database or redis should be opened")
	}
	if len(rt.Catalog.List()) == 0 {
		t.Fatalf("expected bundled models")
	}
	bal, err := rt.Ledger.AddBalance(context.Background(), "u1", 25)
	if err != nil || bal != 25 {
		t.Fatalf("AddBalance = %d, %v", bal, err)
	}

	gw, err := rt.Gateway()
	if err != nil {
		t.Fatalf("Gateway: %v", err)
	}
	if gw.Name() != "mock" {
		t.Fatalf("expected mock gateway, got %s", gw.Name())
	}
	eng, err := rt.Engine(gw)
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if err := eng.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestOpenWithRedisFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.LedgerFallback = "redis"
	cfg.RedisURL = "redis://" + mr.Addr()

	rt, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if _, err := rt.Ledger.AddBalance(context.Background(), "u1", 40); err != nil {
		t.Fatalf("AddBalance: %v", err)
	}
	got, err := mr.Get("genbot:balance:u1")
	if err != nil || got != "40" {
		t.Fatalf("redis mirror = %q, %v", got, err)
	}
}

func TestOpenFailsOnMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelsPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for missing catalog")
	}
}
