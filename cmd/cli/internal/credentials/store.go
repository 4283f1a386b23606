package credentials

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/staffconsole/internal/models"
)

// Sentinel errors
var (
	// ErrSessionNotFound is returned when no session was recorded for a backend.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidBaseURL is returned when a backend URL cannot be used as a key.
	ErrInvalidBaseURL = errors.New("invalid backend URL")
)

// Session is what the console remembers about the last login to a backend.
// It never holds the access token; the refresh cookie lives in the jar file.
type Session struct {
	BaseURL   string      `json:"base_url"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Config represents the sessions configuration file.
type Config struct {
	Version  int                `json:"version"`
	Sessions map[string]Session `json:"sessions"`
}

// Store manages session state on the local filesystem, one entry and one
// cookie file per backend.
type Store struct {
	baseDir string
}

// NewStore creates a new session store.
// If baseDir is empty, uses ~/.staffconsole/sessions/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".staffconsole", "sessions")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	store := &Store{baseDir: baseDir}

	if err := store.ensureConfig(); err != nil {
		return nil, err
	}

	log.Debug().Str("baseDir", baseDir).Msg("session store initialized")

	return store, nil
}

// Dir returns the directory holding the store files.
func (s *Store) Dir() string {
	return s.baseDir
}

// Fingerprint derives the file key for a backend: the Base58-encoded SHA256
// of its normalised base URL.
func Fingerprint(baseURL string) (string, error) {
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256([]byte(normalized))
	return base58.Encode(hash[:]), nil
}

// Get returns the session recorded for baseURL.
func (s *Store) Get(baseURL string) (*Session, error) {
	key, err := Fingerprint(baseURL)
	if err != nil {
		return nil, err
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	sess, ok := cfg.Sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return &sess, nil
}

// Save records the signed in user for baseURL.
func (s *Store) Save(baseURL string, user *models.User) error {
	key, err := Fingerprint(baseURL)
	if err != nil {
		return err
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	normalized, _ := normalizeBaseURL(baseURL)
	cfg.Sessions[key] = Session{
		BaseURL:   normalized,
		Email:     user.Email,
		Role:      user.Role,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Debug().Str("baseURL", normalized).Str("email", user.Email).Msg("session recorded")

	return nil
}

// Delete forgets the session for baseURL and removes its cookie file.
// Deleting a session that does not exist is not an error.
func (s *Store) Delete(baseURL string) error {
	key, err := Fingerprint(baseURL)
	if err != nil {
		return err
	}

	if err := os.Remove(s.cookiePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cookie file: %w", err)
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Sessions[key]; !ok {
		return nil
	}
	delete(cfg.Sessions, key)

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Debug().Str("baseURL", baseURL).Msg("session deleted")

	return nil
}

// List returns every recorded session.
func (s *Store) List() ([]Session, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(cfg.Sessions))
	for _, sess := range cfg.Sessions {
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

func (s *Store) cookiePath(key string) string {
	return filepath.Join(s.baseDir, key+".cookies.json")
}

// ensureConfig creates an empty config if it doesn't exist.
func (s *Store) ensureConfig() error {
	configPath := filepath.Join(s.baseDir, "config.json")

	// Check if config exists
	if _, err := os.Stat(configPath); err == nil {
		return nil // Config exists
	}

	cfg := &Config{
		Version:  1,
		Sessions: make(map[string]Session),
	}

	return s.saveConfig(cfg)
}

// loadConfig reads the config file.
func (s *Store) loadConfig() (*Config, error) {
	configPath := filepath.Join(s.baseDir, "config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Sessions == nil {
		cfg.Sessions = make(map[string]Session)
	}

	return &cfg, nil
}

// saveConfig writes the config file atomically.
func (s *Store) saveConfig(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return writeFileAtomic(filepath.Join(s.baseDir, "config.json"), data)
}

// writeFileAtomic writes data to a temp file with 0600 permissions and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}

	return nil
}

func normalizeBaseURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/"), nil
}
