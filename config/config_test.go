package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if !cfg.App.IsDev() {
		t.Fatalf("expected dev env, got %q", cfg.App.Env)
	}
	if cfg.DB.Path != "library.db" {
		t.Fatalf("unexpected db path %q", cfg.DB.Path)
	}
	if cfg.DB.BusyTimeout != 5*time.Second {
		t.Fatalf("expected busy timeout 5s, got %v", cfg.DB.BusyTimeout)
	}
	if cfg.Loans.AccessLoanDays != 14 {
		t.Fatalf("expected 14 day access loans, got %d", cfg.Loans.AccessLoanDays)
	}
	if cfg.Catalog.UPCMaxAttempts != 10 {
		t.Fatalf("expected 10 upc attempts, got %d", cfg.Catalog.UPCMaxAttempts)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Fatalf("expected bcrypt cost 10, got %d", cfg.Auth.BcryptCost)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAppEnv, "prod")
	t.Setenv(EnvDBPath, "/tmp/games.db")
	t.Setenv(EnvDBBusyTimeout, "250ms")
	t.Setenv(EnvAccessLoanDays, "21")
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.App.IsProd() {
		t.Fatalf("expected prod env, got %q", cfg.App.Env)
	}
	if cfg.DB.Path != "/tmp/games.db" {
		t.Fatalf("unexpected db path %q", cfg.DB.Path)
	}
	if cfg.DB.BusyTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected busy timeout %v", cfg.DB.BusyTimeout)
	}
	if cfg.Loans.AccessLoanDays != 21 {
		t.Fatalf("unexpected access loan days %d", cfg.Loans.AccessLoanDays)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "loan days outside allowed set", key: EnvAccessLoanDays, value: "10"},
		{name: "zero upc attempts", key: EnvUPCMaxAttempts, value: "0"},
		{name: "bcrypt cost too low", key: EnvBcryptCost, value: "2"},
		{name: "unknown log format", key: EnvLogFormat, value: "xml"},
		{name: "unparseable duration", key: EnvDBBusyTimeout, value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvAppEnv, EnvLogLevel, EnvLogFormat, EnvLogWarnStack, EnvDBPath,
		EnvDBBusyTimeout, EnvAccessLoanDays, EnvUPCMaxAttempts, EnvBcryptCost,
	} {
		// t.Setenv restores the original value after the test.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}
