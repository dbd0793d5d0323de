package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/backkem/thread/pkg/link"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage backed by a SQLite database file.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set storage db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set storage db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
	iface INTEGER NOT NULL,
	key TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (iface, key)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize records schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) get(id link.InterfaceID, key string, v any) error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM records WHERE iface = ? AND key = ?`, int(id), key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("query record %s/%s: %w", id, key, err)
	}
	return decodeRecord(payload, v)
}

func (s *SQLiteStorage) put(id link.InterfaceID, key string, v any) error {
	payload, err := encodeRecord(v)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", id, key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO records (iface, key, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(iface, key) DO UPDATE SET
		 payload = excluded.payload,
		 updated_at = excluded.updated_at`,
		int(id),
		key,
		payload,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save record %s/%s: %w", id, key, err)
	}
	return nil
}

func (s *SQLiteStorage) delete(id link.InterfaceID, key string) error {
	if _, err := s.db.Exec(`DELETE FROM records WHERE iface = ? AND key = ?`, int(id), key); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", id, key, err)
	}
	return nil
}

// LoadDataset returns the stored dataset of the given kind.
func (s *SQLiteStorage) LoadDataset(id link.InterfaceID, kind DatasetKind) (DatasetRecord, error) {
	var rec DatasetRecord
	err := s.get(id, datasetKey(kind), &rec)
	return rec, err
}

// SaveDataset stores or replaces a dataset.
func (s *SQLiteStorage) SaveDataset(id link.InterfaceID, kind DatasetKind, rec DatasetRecord) error {
	return s.put(id, datasetKey(kind), rec)
}

// DeleteDataset removes a dataset.
func (s *SQLiteStorage) DeleteDataset(id link.InterfaceID, kind DatasetKind) error {
	return s.delete(id, datasetKey(kind))
}

// LoadIdentity returns the stored device identity.
func (s *SQLiteStorage) LoadIdentity(id link.InterfaceID) (IdentityRecord, error) {
	var rec IdentityRecord
	err := s.get(id, keyIdentity, &rec)
	return rec, err
}

// SaveIdentity stores the device identity.
func (s *SQLiteStorage) SaveIdentity(id link.InterfaceID, rec IdentityRecord) error {
	return s.put(id, keyIdentity, rec)
}

// LoadParent returns the stored parent record.
func (s *SQLiteStorage) LoadParent(id link.InterfaceID) (ParentRecord, error) {
	var rec ParentRecord
	err := s.get(id, keyParent, &rec)
	return rec, err
}

// SaveParent stores the parent record.
func (s *SQLiteStorage) SaveParent(id link.InterfaceID, rec ParentRecord) error {
	return s.put(id, keyParent, rec)
}

// DeleteParent removes the parent record.
func (s *SQLiteStorage) DeleteParent(id link.InterfaceID) error {
	return s.delete(id, keyParent)
}

// LoadFrameCounters returns the stored frame counters.
func (s *SQLiteStorage) LoadFrameCounters(id link.InterfaceID) (FrameCounterRecord, error) {
	var rec FrameCounterRecord
	err := s.get(id, keyCounters, &rec)
	return rec, err
}

// SaveFrameCounters stores the frame counters.
func (s *SQLiteStorage) SaveFrameCounters(id link.InterfaceID, rec FrameCounterRecord) error {
	return s.put(id, keyCounters, rec)
}

var _ Storage = (*SQLiteStorage)(nil)
