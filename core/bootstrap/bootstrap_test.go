package bootstrap

import (
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "gatebot/core/config"
	coredatabase "gatebot/core/database"
)

func TestRunDerivesDatabaseFromConfigBlock(t *testing.T) {
	cfg := &coreconfig.Config{
		Database: coreconfig.DatabaseConfig{
			Host:           "db.local",
			Port:           "5433",
			User:           "bot",
			Password:       "secret",
			Name:           "gate",
			SSLMode:        "disable",
			MaxConnections: 4,
		},
	}

	var connected, migrated coredatabase.Config
	res, err := Run(Options{
		Config:     cfg,
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Connect: func(c coredatabase.Config) (*sqlx.DB, error) {
			connected = c
			return &sqlx.DB{}, nil
		},
		Migrate: func(c coredatabase.Config) error {
			migrated = c
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DB == nil {
		t.Fatal("expected DB in result")
	}

	want := DatabaseFromConfig(cfg.Database)
	if connected != want {
		t.Errorf("connect got %+v, want %+v", connected, want)
	}
	if migrated != want {
		t.Errorf("migrate got %+v, want %+v", migrated, want)
	}
	if connected.Host != "db.local" || connected.MaxConnections != 4 {
		t.Errorf("database block not carried over: %+v", connected)
	}
}

func TestRunDatabaseOverrideWins(t *testing.T) {
	cfg := &coreconfig.Config{
		Database: coreconfig.DatabaseConfig{Host: "from-file"},
	}
	override := coredatabase.Config{Host: "from-options", Port: "5432"}

	var connected coredatabase.Config
	_, err := Run(Options{
		Config:     cfg,
		Database:   override,
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Connect: func(c coredatabase.Config) (*sqlx.DB, error) {
			connected = c
			return &sqlx.DB{}, nil
		},
		Migrate: func(coredatabase.Config) error { return nil },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if connected != override {
		t.Errorf("connect got %+v, want override %+v", connected, override)
	}
}
