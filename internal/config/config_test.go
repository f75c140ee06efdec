package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithDSN(t *testing.T) {
	t.Setenv("ZEROGEX_STORE_DSN", "postgres://localhost/zerogex")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for an explicit config file that does not exist")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("expected config to load with DSN, got error: %v", err)
	}

	if cfg.Store.DSN != "postgres://localhost/zerogex" {
		t.Errorf("expected DSN from env, got '%s'", cfg.Store.DSN)
	}
	if cfg.GEX.ContractMultiplier != 100 {
		t.Errorf("expected multiplier 100, got %v", cfg.GEX.ContractMultiplier)
	}
	if cfg.GEX.MaxStaleness != time.Hour {
		t.Errorf("expected 1h staleness, got %v", cfg.GEX.MaxStaleness)
	}
	if cfg.GEX.TimestampGranularity != time.Minute {
		t.Errorf("expected 1m granularity, got %v", cfg.GEX.TimestampGranularity)
	}
	if cfg.Scheduler.Interval != 60*time.Second {
		t.Errorf("expected 60s interval, got %v", cfg.Scheduler.Interval)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "SPY" {
		t.Errorf("expected default symbols [SPY], got %v", cfg.Symbols)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("expected America/New_York, got %s", cfg.Location())
	}
}

func TestLoadWithoutDSN(t *testing.T) {
	t.Setenv("ZEROGEX_STORE_DSN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DSN is missing for postgres backend")
	}
	if !strings.Contains(err.Error(), "store.dsn") {
		t.Errorf("error should mention store.dsn, got: %v", err)
	}
}

func TestLoadSymbolsFromEnv(t *testing.T) {
	t.Setenv("ZEROGEX_STORE_BACKEND", "memory")
	t.Setenv("ZEROGEX_SYMBOLS", "spy, qqq,SPX")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"SPY", "QQQ", "SPX"}
	if strings.Join(cfg.Symbols, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, cfg.Symbols)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerogex.yaml")
	content := `
symbols: [QQQ]
store:
  backend: file
  directory: /tmp/chains
gex:
  expiration: "2025-01-17"
  max_staleness: 30m
scheduler:
  interval: 15s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Backend != string(BackendFile) {
		t.Errorf("expected file backend, got %s", cfg.Store.Backend)
	}
	if cfg.GEX.MaxStaleness != 30*time.Minute {
		t.Errorf("expected 30m, got %v", cfg.GEX.MaxStaleness)
	}
	exp, err := cfg.ExpirationDate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Format("2006-01-02") != "2025-01-17" {
		t.Errorf("expected 2025-01-17, got %s", exp)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Symbols: []string{"spy"},
		Store:   StoreConfig{Backend: "postgres"},
		GEX: GEXConfig{
			ContractMultiplier:   0,
			TimestampGranularity: time.Minute,
			Expiration:           "tomorrow",
			Timezone:             "Mars/Olympus",
			NearMoneyBand:        0.02,
			HorizonDays:          1,
			Confidence:           0.68,
		},
		Scheduler: SchedulerConfig{
			Interval:      time.Minute,
			OpenTime:      "16:00",
			CloseTime:     "09:30",
			RatePerSecond: 1,
			StatsEvery:    1,
		},
		Server:  ServerConfig{Port: "8080"},
		Logging: LoggingConfig{Level: "info"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}

	msg := verrs.Error()
	for _, want := range []string{
		"Config.Symbols[0]",
		"Config.GEX.ContractMultiplier",
		"store.dsn",
		"Mars/Olympus",
		"tomorrow",
		"open_time",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q, got:\n%s", want, msg)
		}
	}
}
