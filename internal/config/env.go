package config

import (
	"os"
	"strings"
)

// Environment variables that override file values.
const (
	EnvToken  = "BOT_TOKEN"
	EnvDBFile = "DB_FILE"
)

// applyEnv overrides secrets and paths from the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDBFile); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Path = strings.TrimSpace(v)
	}
}
