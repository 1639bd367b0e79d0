package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SecretService is the service name secrets are stored under.
const SecretService = "errsheet"

// ErrSecretNotFound is returned by SecretStore.Get for unknown accounts.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore abstracts the platform secret store (macOS Keychain or a
// private JSON file elsewhere).
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// GetAPIToken returns the bearer token protecting the local JSON API,
// generating and storing one on first use.
func GetAPIToken(s SecretStore) (string, error) {
	tok, err := s.Get(SecretService, "api_token")
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}
	tok = uuid.New().String()
	if err := s.Set(SecretService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// fileSecrets keeps secrets in a 0600 JSON file: {service: {account: value}}.
type fileSecrets struct {
	path string
}

func (f *fileSecrets) read() (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f *fileSecrets) write(secrets map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

func (f *fileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, service, account)
	}
	return val, nil
}

func (f *fileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value
	return f.write(secrets)
}

func (f *fileSecrets) Delete(service, account string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := secrets[service][account]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrSecretNotFound, service, account)
	}
	delete(secrets[service], account)
	return f.write(secrets)
}
