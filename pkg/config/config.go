package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
)

// Config is the persisted CLI configuration.
type Config struct {
	// Username is the account email or mobile number.
	Username string `json:"username" yaml:"username"`

	// PasswordHash is the MD5 hex digest of the account password.
	PasswordHash string `json:"passwordHash" yaml:"passwordHash"`

	// Country is the lowercase two-letter account country code.
	Country string `json:"country" yaml:"country"`

	// Continent is the lowercase continent code for portal and broker
	// host selection.
	Continent string `json:"continent" yaml:"continent"`

	// DeviceID is the generated client device id. Reusing it across
	// restarts keeps issued tokens valid.
	DeviceID string `json:"deviceId" yaml:"deviceId"`

	// Credentials are the cached portal credentials, if any.
	Credentials *auth.Credentials `json:"credentials" yaml:"credentials"`
}

// Store manages persistence of the configuration file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a config store for the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the configuration from disk.
// Returns nil, nil if the file doesn't exist.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(s.path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save persists the configuration to disk.
func (s *Store) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(s.path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	// Tokens live in this file; keep it private to the user.
	return os.WriteFile(s.path, data, 0600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
