package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvSourceToken   = "SOURCE_TOKEN"
	EnvSourceURL     = "SOURCE_BASE_URL"
	EnvStatusToken   = "STATUS_TOKEN"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides secrets with non-empty environment values.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Telegram.Token, EnvTelegramToken)
	set(&c.Source.Token, EnvSourceToken)
	set(&c.Source.BaseURL, EnvSourceURL)
	set(&c.Status.Token, EnvStatusToken)
}
