// Package credentials persists the application key and client key issued by
// a bridge so they do not have to live in the config file.
package credentials

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound means no credentials are stored for the bridge.
var ErrNotFound = errors.New("no stored credentials for bridge")

// Credentials identify this application to one bridge.
type Credentials struct {
	Bridge    string
	Username  string
	ClientKey string
	UpdatedAt time.Time
}

// Complete reports whether both keys are present.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.ClientKey != ""
}

// Store is a SQLite-backed credential table keyed by bridge address.
type Store struct {
	db *sql.DB
}

// NewStore creates a credential store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the stored credentials or ErrNotFound.
func (s *Store) Get(bridge string) (Credentials, error) {
	creds := Credentials{Bridge: bridge}
	var updated int64

	err := s.db.QueryRow(`
		SELECT username, client_key, updated_at FROM bridge_credentials
		WHERE bridge = ?
	`, bridge).Scan(&creds.Username, &creds.ClientKey, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	creds.UpdatedAt = time.Unix(updated, 0).UTC()
	return creds, nil
}

// Put stores or replaces credentials for a bridge.
func (s *Store) Put(c Credentials) error {
	if !c.Complete() {
		return fmt.Errorf("credentials for %s are incomplete", c.Bridge)
	}

	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(`
		INSERT INTO bridge_credentials (bridge, username, client_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bridge) DO UPDATE SET
			username = excluded.username,
			client_key = excluded.client_key,
			updated_at = excluded.updated_at
	`, c.Bridge, c.Username, c.ClientKey, now, now)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// Delete removes stored credentials. It reports whether a row existed.
func (s *Store) Delete(bridge string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM bridge_credentials WHERE bridge = ?`, bridge)
	if err != nil {
		return false, fmt.Errorf("failed to delete credentials: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Resolve merges configured values with stored ones. Configured values win
// and are persisted; empty ones are filled from the store.
func (s *Store) Resolve(configured Credentials) (Credentials, error) {
	if configured.Complete() {
		stored, err := s.Get(configured.Bridge)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Credentials{}, err
		}
		if stored.Username != configured.Username || stored.ClientKey != configured.ClientKey {
			if err := s.Put(configured); err != nil {
				return Credentials{}, err
			}
			log.Info().Str("bridge", configured.Bridge).Msg("Stored bridge credentials")
		}
		return configured, nil
	}

	stored, err := s.Get(configured.Bridge)
	if errors.Is(err, ErrNotFound) {
		return Credentials{}, fmt.Errorf("%w %s: set hue.username and hue.client_key", ErrNotFound, configured.Bridge)
	}
	if err != nil {
		return Credentials{}, err
	}

	if configured.Username != "" {
		stored.Username = configured.Username
	}
	if configured.ClientKey != "" {
		stored.ClientKey = configured.ClientKey
	}

	log.Debug().Str("bridge", configured.Bridge).Msg("Using stored bridge credentials")
	return stored, nil
}
