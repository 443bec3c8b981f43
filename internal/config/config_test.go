package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.env")
	content := strings.Join([]string{
		"PORT=6000",
		"VERBOSE=false",
		"DB_DRIVER=SQLite",
		"SQLITE_PATH=/tmp/x.db",
		"ALLOW_ORIGINS= http://a.test , http://b.test",
		"AUTH_MODE=hmac",
		"JWT_SECRET=s3cret",
		"KC_REALM=team",
		"AUTH_ADDRESS=kc:8080",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// godotenv never overrides variables that are already set
	for _, k := range []string{"PORT", "VERBOSE", "DB_DRIVER", "SQLITE_PATH", "ALLOW_ORIGINS", "AUTH_MODE", "JWT_SECRET", "KC_REALM", "AUTH_ADDRESS", "KC_ISSUER"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load(path)

	if cfg.ConfigPath != "tracker.env" || cfg.Port != "6000" || cfg.Verbose {
		t.Errorf("basic fields = %q %q %v", cfg.ConfigPath, cfg.Port, cfg.Verbose)
	}
	if cfg.DBDriver != "sqlite" || cfg.SQLitePath != "/tmp/x.db" {
		t.Errorf("db = %q %q", cfg.DBDriver, cfg.SQLitePath)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://a.test" || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("origins = %q", cfg.AllowedOrigins)
	}
	if cfg.AuthMode != "hmac" || cfg.JWTSecret != "s3cret" {
		t.Errorf("auth = %q %q", cfg.AuthMode, cfg.JWTSecret)
	}
	if cfg.Issuer != "http://kc:8080/realms/team" {
		t.Errorf("issuer = %q", cfg.Issuer)
	}
	if cfg.JWKSURL() != "http://kc:8080/realms/team/protocol/openid-connect/certs" {
		t.Errorf("jwks = %q", cfg.JWKSURL())
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "AUTH_MODE", "VERBOSE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("VERBOSE", "false")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Port != "5030" || cfg.DBDriver != "postgres" || cfg.AuthMode != "keycloak" {
		t.Errorf("defaults = %q %q %q", cfg.Port, cfg.DBDriver, cfg.AuthMode)
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Config{DBPassword: "pw", JWTSecret: "jwt", ClientSecret: "", DBUser: "postgres"}
	s := cfg.String()

	if strings.Contains(s, "pw\n") || strings.Contains(s, "jwt\n") {
		t.Fatalf("secret leaked:\n%s", s)
	}
	if !strings.Contains(s, "-> ****") || !strings.Contains(s, "-> postgres") {
		t.Fatalf("unexpected dump:\n%s", s)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := Config{DBUser: "u", DBPassword: "p", DBAddress: "db:5432", DBName: "pms"}
	if got := cfg.PostgresDSN(); got != "postgres://u:p@db:5432/pms?sslmode=disable" {
		t.Fatalf("dsn = %q", got)
	}
}
