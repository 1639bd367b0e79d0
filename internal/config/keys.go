package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	account  string // secret store account for secret keys
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "google.api_key", typ: kString, env: "GOOGLE_API_KEY",
		secret: true, required: true, account: "google_api_key",
		apply:   func(cfg *Config, v any) { cfg.Google.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Google.APIKey },
	},
	{
		key: "google.client_id", typ: kString, env: "GOOGLE_CLIENT_ID",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Google.ClientID = v.(string) },
		extract:  func(cfg Config) any { return cfg.Google.ClientID },
	},
	{
		key: "google.client_secret", typ: kString, env: "GOOGLE_CLIENT_SECRET",
		secret: true, account: "google_client_secret",
		apply:   func(cfg *Config, v any) { cfg.Google.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Google.ClientSecret },
	},
	{
		key: "google.spreadsheet_id", typ: kString, env: "GOOGLE_SPREADSHEET_ID",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Google.SpreadsheetID = v.(string) },
		extract:  func(cfg Config) any { return cfg.Google.SpreadsheetID },
	},
	{
		key: "google.sheet_name", typ: kString, env: "GOOGLE_SHEET_NAME",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Google.SheetName = v.(string) },
		extract:  func(cfg Config) any { return cfg.Google.SheetName },
	},
	{
		key: "server.port", typ: kInt, env: "ERRSHEET_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ERRSHEET_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.retention", typ: kString, env: "ERRSHEET_STORAGE_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Storage.Retention = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Retention },
	},
	{
		key: "log.level", typ: kString, env: "ERRSHEET_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "submit.timeout", typ: kString, env: "ERRSHEET_SUBMIT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Submit.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Submit.Timeout },
	},
	{
		key: "auth.signin_timeout", typ: kString, env: "ERRSHEET_SIGNIN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Auth.SignInTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.SignInTimeout },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, secrets SecretStore) {
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := secrets.Get(SecretService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
