// Package settings persists the provider API key and endpoint. Values are
// read once at startup with a fallback default and written on every change.
package settings

import (
	"database/sql"
	"strings"

	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/storage/sqlite"

	log "github.com/sirupsen/logrus"
)

const (
	KeyAPIKey   = "gemini_api_key"
	KeyEndpoint = "gemini_api_endpoint"
)

type Settings = domain.Settings

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Defaults are the config-provided values used when nothing is stored.
func Defaults(cfg config.Config) Settings {
	return Settings{
		APIKey:   cfg.DefaultAPIKey(),
		Endpoint: cfg.DefaultEndpoint(),
	}
}

func (s *Store) Load(defaults Settings) Settings {
	return Settings{
		APIKey:   s.get(KeyAPIKey, defaults.APIKey),
		Endpoint: s.get(KeyEndpoint, defaults.Endpoint),
	}
}

func (s *Store) get(key, fallback string) string {
	value, ok, err := sqlite.GetSetting(s.db, key)
	if err != nil {
		log.Printf("settings read error key=%s: %v", key, err)
		return fallback
	}
	if !ok {
		return fallback
	}
	return value
}

func (s *Store) SetAPIKey(value string) error {
	return sqlite.SetSetting(s.db, KeyAPIKey, value)
}

func (s *Store) SetEndpoint(value string) error {
	return sqlite.SetSetting(s.db, KeyEndpoint, value)
}

// Save writes both values.
func (s *Store) Save(v Settings) error {
	if err := s.SetAPIKey(v.APIKey); err != nil {
		return err
	}
	return s.SetEndpoint(v.Endpoint)
}

// MaskKey hides all but the last four characters of a key for display.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
