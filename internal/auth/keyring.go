// Package auth keeps the API session token in the OS keychain.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

// DefaultService is the keychain service name when none is configured.
const DefaultService = "bart-task"

const accountAPI = "api/token"

// ErrNoToken is returned when no token is stored.
var ErrNoToken = errors.New("auth: no token stored")

// TokenStore wraps the OS keychain with an optional file fallback for
// environments without a system keyring.
type TokenStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewTokenStore creates a keychain-backed token store.
func NewTokenStore(service, fallbackPath string) *TokenStore {
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return &TokenStore{service: service, fallbackPath: fallbackPath}
}

// Set stores the token.
func (s *TokenStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("auth: token is required")
	}

	err := keyring.Set(s.service, accountAPI, token)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("auth: keyring set: %w", err)
	}
	return s.writeFallback(token)
}

// Get returns the stored token or ErrNoToken.
func (s *TokenStore) Get() (string, error) {
	val, err := keyring.Get(s.service, accountAPI)
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("auth: keyring get: %w", err)
	}

	fallback, ferr := s.readFallback()
	if ferr != nil {
		return "", ferr
	}
	if fallback == "" {
		return "", ErrNoToken
	}
	return fallback, nil
}

// Delete removes the token from the keychain and the fallback file.
func (s *TokenStore) Delete() error {
	err := keyring.Delete(s.service, accountAPI)
	if ferr := s.removeFallback(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("auth: keyring delete: %w", err)
	}
	return nil
}

// Generate creates and stores a fresh random token.
func (s *TokenStore) Generate() (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.Set(token); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the configured token when set, else the stored one.
// An empty result means the API runs without a token check.
func Resolve(configured string, store *TokenStore) (string, error) {
	if t := strings.TrimSpace(configured); t != "" {
		return t, nil
	}
	if store == nil {
		return "", nil
	}
	t, err := store.Get()
	if errors.Is(err, ErrNoToken) {
		return "", nil
	}
	return t, err
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

type fallbackFile struct {
	Token string `json:"token"`
}

func (s *TokenStore) readFallback() (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("auth: read fallback token: %w", err)
	}
	var f fallbackFile
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return "", fmt.Errorf("auth: decode fallback token: %w", err)
		}
	}
	return f.Token, nil
}

func (s *TokenStore) writeFallback(token string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return fmt.Errorf("auth: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("auth: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(fallbackFile{Token: token})
	if err != nil {
		return fmt.Errorf("auth: encode fallback token: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("auth: write fallback token: %w", err)
	}
	return nil
}

func (s *TokenStore) removeFallback() error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.fallbackPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("auth: remove fallback token: %w", err)
	}
	return nil
}
