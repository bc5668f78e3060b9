package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
database:
  driver: postgres
  host: db.internal
engine:
  clustering:
    eps: 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.Host != "db.internal" {
		t.Fatalf("database = %+v, want overridden driver and host", cfg.Database)
	}
	if cfg.Engine.Clustering.Eps != 1.5 {
		t.Fatalf("eps = %g, want 1.5", cfg.Engine.Clustering.Eps)
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.Influence.TailZ != 3.5 {
		t.Fatalf("tailZ = %g, want default 3.5", cfg.Engine.Influence.TailZ)
	}
	if cfg.Uploads.Dir != "uploads" {
		t.Fatalf("uploads dir = %q, want default", cfg.Uploads.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestDefaultEngine(t *testing.T) {
	e := DefaultEngine()
	if e.Seed != 42 || e.Spectral.K != 2.0 || e.Clustering.Eps != 2.0 {
		t.Fatalf("unexpected defaults: %+v", e)
	}
	if e.Influence.MaxIterations != 50 || e.Influence.Damping != 0.01 {
		t.Fatalf("unexpected influence defaults: %+v", e.Influence)
	}
	if e.Image.Size != 64 || e.Image.EmbedDims != 256 {
		t.Fatalf("unexpected image defaults: %+v", e.Image)
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.User = "app"
	cfg.Database.Password = "secret"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 3306
	cfg.Database.Name = "blackforge"

	want := "app:secret@tcp(localhost:3306)/blackforge?parseTime=true&charset=utf8mb4&loc=UTC"
	if got := cfg.MySQLDSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestPostgresDSNDefaultsSSLMode(t *testing.T) {
	cfg := Default()
	cfg.Database.User = "app"
	cfg.Database.Password = "secret"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "blackforge"

	want := "host=localhost port=5432 user=app password=secret dbname=blackforge sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
