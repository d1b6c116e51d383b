package session

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"time"

	_ "modernc.org/sqlite"

	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/llm"
)

// ErrNotFound reports a missing snapshot id.
var ErrNotFound = errors.New("session snapshot not found")

// SnapshotInfo is the metadata row for one persisted session.
type SnapshotInfo struct {
	ID        string
	Messages  int
	UpdatedAt time.Time
}

// Store persists conversation snapshots in SQLite so a session, and in
// particular a confirmation suspension, survives process restarts.
// Histories are stored as gzipped JSON blobs.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the snapshot database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, droverr.SessionStoreFailed("open", err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			messages   INTEGER NOT NULL,
			history    BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return droverr.SessionStoreFailed("migrate", err)
	}
	return nil
}

// Save upserts the full history for a session id.
func (s *Store) Save(id string, messages []llm.Message) error {
	blob, err := encodeHistory(messages)
	if err != nil {
		return droverr.SessionStoreFailed("encode", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, messages, history, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			history = excluded.history,
			updated_at = excluded.updated_at`,
		id, len(messages), blob, time.Now().UTC())
	if err != nil {
		return droverr.SessionStoreFailed("save", err)
	}
	return nil
}

// Load returns the persisted history for a session id.
func (s *Store) Load(id string) ([]llm.Message, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT history FROM sessions WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, droverr.SessionStoreFailed("load", err)
	}
	return decodeHistory(blob)
}

// List returns metadata for every persisted session, newest first.
func (s *Store) List() ([]SnapshotInfo, error) {
	rows, err := s.db.Query(`SELECT id, messages, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, droverr.SessionStoreFailed("list", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.ID, &info.Messages, &info.UpdatedAt); err != nil {
			return nil, droverr.SessionStoreFailed("list", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a persisted session.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return droverr.SessionStoreFailed("delete", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeHistory(messages []llm.Message) ([]byte, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHistory(blob []byte) ([]llm.Message, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, droverr.SessionStoreFailed("decode", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, droverr.SessionStoreFailed("decode", err)
	}
	var messages []llm.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, droverr.SessionStoreFailed("decode", err)
	}
	return messages, nil
}
