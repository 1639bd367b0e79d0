package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/kalambet/errsheet/internal/config"
)

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	// Load returns nil without error when no token has been saved.
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Delete() error
}

const tokenAccount = "google_token"

// SecretTokenStore keeps the token as JSON in the platform secret store.
type SecretTokenStore struct {
	secrets config.SecretStore
}

func NewSecretTokenStore(secrets config.SecretStore) *SecretTokenStore {
	return &SecretTokenStore{secrets: secrets}
}

func (s *SecretTokenStore) Load() (*oauth2.Token, error) {
	raw, err := s.secrets.Get(config.SecretService, tokenAccount)
	if errors.Is(err, config.ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("parsing stored token: %w", err)
	}
	return &tok, nil
}

func (s *SecretTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return s.secrets.Set(config.SecretService, tokenAccount, string(data))
}

func (s *SecretTokenStore) Delete() error {
	err := s.secrets.Delete(config.SecretService, tokenAccount)
	if errors.Is(err, config.ErrSecretNotFound) {
		return nil
	}
	return err
}
