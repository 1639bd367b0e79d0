//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// security(1) exits with 44 when an item does not exist.
const keychainItemNotFound = 44

type keychainStore struct{}

// NewKeychain returns a SecretStore backed by the macOS Keychain.
func NewKeychain() SecretStore {
	return keychainStore{}
}

func (keychainStore) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", keychainErr(err, service, account)
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainStore) Set(service, account, value string) error {
	out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing keychain item %s/%s: %w, output: %s", service, account, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (keychainStore) Delete(service, account string) error {
	if err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run(); err != nil {
		return keychainErr(err, service, account)
	}
	return nil
}

func keychainErr(err error, service, account string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == keychainItemNotFound {
		return fmt.Errorf("%w: %s/%s", ErrSecretNotFound, service, account)
	}
	return fmt.Errorf("keychain %s/%s: %w", service, account, err)
}
