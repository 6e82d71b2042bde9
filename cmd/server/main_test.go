package main

import (
	"testing"
	"time"
)

func TestResolveStorageDriver(t *testing.T) {
	cases := []struct {
		name      string
		flagValue string
		envValue  string
		dsn       string
		want      string
	}{
		{name: "flag wins", flagValue: "Postgres", envValue: "json", dsn: "", want: "postgres"},
		{name: "env fallback", envValue: "JSON", want: "json"},
		{name: "dsn implies postgres", dsn: "postgres://example", want: "postgres"},
		{name: "defaults to json", want: "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver, err := resolveStorageDriver(tc.flagValue, tc.envValue, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver: %v", err)
			}
			if driver != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, driver)
			}
		})
	}
}

func TestResolvePostgresDSNPriority(t *testing.T) {
	t.Setenv("REELHOUSE_POSTGRES_DSN", "postgres://env")
	t.Setenv("DATABASE_URL", "postgres://database")

	if got := resolvePostgresDSN("postgres://flag"); got != "postgres://flag" {
		t.Fatalf("expected flag DSN to win, got %q", got)
	}
	if got := resolvePostgresDSN(""); got != "postgres://env" {
		t.Fatalf("expected REELHOUSE_POSTGRES_DSN to win, got %q", got)
	}
	t.Setenv("REELHOUSE_POSTGRES_DSN", "")
	if got := resolvePostgresDSN(""); got != "postgres://database" {
		t.Fatalf("expected DATABASE_URL fallback, got %q", got)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("127.0.0.1:9999", "production", ""); got != "127.0.0.1:9999" {
		t.Fatalf("expected flag address to win, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected production default :80, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("expected development default :8080, got %q", got)
	}
	if got := resolveListenAddr("", "development", ":7070"); got != ":7070" {
		t.Fatalf("expected env address to win over default, got %q", got)
	}
}

func TestModeValue(t *testing.T) {
	if got := modeValue(" Production ", ""); got != "production" {
		t.Fatalf("expected normalized flag mode, got %q", got)
	}
	if got := modeValue("", "production"); got != "production" {
		t.Fatalf("expected env mode, got %q", got)
	}
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
}

func TestResolveUploadBytes(t *testing.T) {
	if got := resolveUploadBytes(1024, "REELHOUSE_TEST_UPLOAD_BYTES"); got != 1024 {
		t.Fatalf("expected flag value to win, got %d", got)
	}
	t.Setenv("REELHOUSE_TEST_UPLOAD_BYTES", "2048")
	if got := resolveUploadBytes(0, "REELHOUSE_TEST_UPLOAD_BYTES"); got != 2048 {
		t.Fatalf("expected env value, got %d", got)
	}
	t.Setenv("REELHOUSE_TEST_UPLOAD_BYTES", "not-a-number")
	if got := resolveUploadBytes(0, "REELHOUSE_TEST_UPLOAD_BYTES"); got != defaultMaxUploadBytes {
		t.Fatalf("expected default for invalid env, got %d", got)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(time.Second, "REELHOUSE_TEST_DURATION", time.Minute); got != time.Second {
		t.Fatalf("expected flag value, got %v", got)
	}
	t.Setenv("REELHOUSE_TEST_DURATION", "90s")
	if got := resolveDuration(0, "REELHOUSE_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("expected env value, got %v", got)
	}
	t.Setenv("REELHOUSE_TEST_DURATION", "")
	if got := resolveDuration(0, "REELHOUSE_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestResolveBoolEnvOverridesFlag(t *testing.T) {
	t.Setenv("REELHOUSE_TEST_BOOL", "false")
	if resolveBool(true, "REELHOUSE_TEST_BOOL") {
		t.Fatal("expected env value to override the flag default")
	}
	t.Setenv("REELHOUSE_TEST_BOOL", "garbage")
	if !resolveBool(true, "REELHOUSE_TEST_BOOL") {
		t.Fatal("expected invalid env to fall back to the flag value")
	}
}

func TestPostgresOptionsFromEnv(t *testing.T) {
	t.Setenv("REELHOUSE_POSTGRES_MAX_CONNS", "8")
	t.Setenv("REELHOUSE_POSTGRES_ACQUIRE_TIMEOUT", "3s")
	opts := postgresOptions(0, 0, 0, 0, 0, 0, "")
	if len(opts) != 2 {
		t.Fatalf("expected pool limit and acquire timeout options, got %d", len(opts))
	}
}
