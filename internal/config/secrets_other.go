//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// NewKeychain returns the file-backed secret store.
func NewKeychain() SecretStore {
	return &fileSecrets{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "errsheet", "secrets.json")
}
