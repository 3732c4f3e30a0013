// Package sqlite is a durable storage.Store backed by an embedded SQLite
// database. Values are sealed with AES-GCM under a key derived from the
// keychain service name and a passphrase, and key names are stored only as
// fingerprints.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/cryptox"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	_ "modernc.org/sqlite"
)

// Config selects the vault inside the database file.
type Config struct {
	// Service namespaces the keys, usually the keychain service name.
	Service string
	// Passphrase feeds the key derivation. An empty passphrase still seals
	// values, but only guards against casual inspection.
	Passphrase string
}

type Store struct {
	db      *sql.DB
	service string
	sealer  *cryptox.Sealer
}

var _ storage.Store = (*Store)(nil)

// NewStore opens the database without touching its schema.
func NewStore(dsn string, cfg Config) (*Store, error) {
	if cfg.Service == "" {
		return nil, errors.New("sqlite: service is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, service: cfg.Service}, nil
}

// Open opens dsn, applies migrations and unlocks the vault for cfg.Service.
func Open(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	s, err := NewStore(dsn, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.ApplyMigrations(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	if err := s.unlock(ctx, cfg.Passphrase); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// unlock loads the vault salt, creating it on first use, and derives the
// sealing key.
func (s *Store) unlock(ctx context.Context, passphrase string) error {
	var salt []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT salt FROM vaults WHERE service = ?`, s.service,
	).Scan(&salt)

	if errors.Is(err, sql.ErrNoRows) {
		salt, err = cryptox.NewSalt()
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vaults (service, salt, created_at) VALUES (?, ?, ?)`,
			s.service, salt, time.Now().UTC(),
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite: load vault: %w", err)
	}

	sealer, err := cryptox.NewSealer(cryptox.DeriveKey(s.service+":"+passphrase, salt))
	if err != nil {
		return err
	}
	s.sealer = sealer
	return nil
}

// additionalData binds a sealed value to its service and key so rows cannot
// be swapped around.
func (s *Store) additionalData(key string) []byte {
	return []byte(s.service + "/" + key)
}

func (s *Store) Save(ctx context.Context, key, value string) error {
	sealed, err := s.sealer.Seal([]byte(value), s.additionalData(key))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (service, key_hash, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (service, key_hash)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.service, cryptox.Fingerprint(key), sealed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE service = ? AND key_hash = ?`,
		s.service, cryptox.Fingerprint(key),
	).Scan(&sealed)
	if err != nil {
		return "", mapNotFound(err)
	}

	plain, err := s.sealer.Open(sealed, s.additionalData(key))
	if err != nil {
		return "", fmt.Errorf("sqlite: open %q: %w", key, err)
	}
	return string(plain), nil
}

// Clear removes every secret of this service. The vault salt is kept so the
// derived key stays stable.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE service = ?`, s.service); err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
