package config

import (
	"fmt"
	"os"
)

type Config struct {
	Env              string
	ListenAddr       string
	DatabaseURL      string
	StoreBackend     string // memory|sqlite|postgres
	SQLitePath       string
	ImportWorkers    int
	EngineConfigPath string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:              getenv("APP_ENV", "development"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StoreBackend:     getenv("STORE_BACKEND", "memory"),
		SQLitePath:       getenv("SQLITE_PATH", "varfreq.db"),
		ImportWorkers:    getenvInt("IMPORT_WORKERS", 1),
		EngineConfigPath: os.Getenv("ENGINE_CONFIG"),
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	return cfg, nil
}
