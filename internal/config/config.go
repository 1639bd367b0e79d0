package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// ErrConfigurationMissing is returned when a required value is absent.
// Nothing can be submitted until it is fixed.
var ErrConfigurationMissing = errors.New("missing required config")

type Config struct {
	Google  GoogleConfig
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Submit  SubmitConfig
	Auth    AuthConfig
}

type GoogleConfig struct {
	APIKey        string
	ClientID      string
	ClientSecret  string
	SpreadsheetID string
	SheetName     string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
	// Retention is how long finished submissions are kept. "0" keeps them forever.
	Retention string
}

type LogConfig struct {
	Level string
}

type SubmitConfig struct {
	Timeout string
}

type AuthConfig struct {
	SignInTimeout string
}

// AppendRange is the A1 range rows are appended to.
func (g GoogleConfig) AppendRange() string {
	return g.SheetName + "!A:F"
}

// RedirectURL is the loopback address Google redirects to after consent.
func (s ServerConfig) RedirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/auth/callback", s.Port)
}

func defaults() Config {
	return Config{
		Google: GoogleConfig{
			SheetName: "ErrorReports",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:   defaultDataDir(),
			Retention: "720h",
		},
		Log: LogConfig{
			Level: "info",
		},
		Submit: SubmitConfig{
			Timeout: "60s",
		},
		Auth: AuthConfig{
			SignInTimeout: "3m",
		},
	}
}

// Load reads configuration from a .env file in the working directory, the
// platform-native backend, environment variables and the platform secret
// store, then validates it.
//
// On macOS the backend is UserDefaults (domain: com.errsheet.app) and
// secrets fall back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/errsheet/config.json
// and secrets fall back to $XDG_DATA_HOME/errsheet/secrets.json.
//
// Environment variables override backend values on all platforms.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

// loadDotEnv exports the variables in path. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every value needed to reach the spreadsheet is set.
func (c Config) Validate() error {
	var missing []string
	for _, s := range specs {
		if !s.required {
			continue
		}
		if v, _ := s.extract(c).(string); strings.TrimSpace(v) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", s.key, s.env))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s. Set the environment variables or a .env file%s",
			ErrConfigurationMissing, strings.Join(missing, ", "), secretHint())
	}
	return nil
}

// Presence reports which required and secret values are set without
// revealing them.
func Presence(cfg Config) map[string]bool {
	out := make(map[string]bool)
	for _, s := range specs {
		if !s.required && !s.secret {
			continue
		}
		v, _ := s.extract(cfg).(string)
		out[s.key] = v != ""
	}
	return out
}
