// Package profile persists calibration results between runs. A profile is
// a named run summary; single-tile recalibration loads one as its base.
package profile

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lumenfield/mirrorcal/internal/calib/state"
)

// ErrNotFound is returned when a profile id does not exist.
var ErrNotFound = errors.New("profile not found")

// Profile is one saved calibration result.
type Profile struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	Summary   *state.Summary `json:"summary"`
}

// Store is a SQLite-backed profile store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	summary    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_created ON profiles(created_at);
`

// Open opens (and if needed creates) the store at the given path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init profile schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a summary under a fresh id and returns the created profile.
func (s *Store) Save(name string, sum *state.Summary) (*Profile, error) {
	if sum == nil {
		return nil, errors.New("nil summary")
	}
	p := &Profile{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Summary:   sum.Clone(),
	}
	data, err := json.Marshal(p.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO profiles (id, name, created_at, summary) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.CreatedAt.Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// Load returns the profile with the given id.
func (s *Store) Load(id string) (*Profile, error) {
	row := s.db.QueryRow(
		"SELECT id, name, created_at, summary FROM profiles WHERE id = ?", id)
	return scanProfile(row)
}

// LoadLatest returns the most recently saved profile.
func (s *Store) LoadLatest() (*Profile, error) {
	row := s.db.QueryRow(
		"SELECT id, name, created_at, summary FROM profiles ORDER BY created_at DESC LIMIT 1")
	return scanProfile(row)
}

// List returns all profiles, newest first, without their summaries.
func (s *Store) List() ([]Profile, error) {
	rows, err := s.db.Query(
		"SELECT id, name, created_at FROM profiles ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a profile.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Export writes one profile as indented JSON, for backup or transfer
// between rigs.
func (s *Store) Export(id string, w io.Writer) error {
	p, err := s.Load(id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// Import reads a profile previously written by Export and stores it under
// a fresh id.
func (s *Store) Import(r io.Reader) (*Profile, error) {
	var p Profile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.Summary == nil {
		return nil, errors.New("profile has no summary")
	}
	return s.Save(p.Name, p.Summary)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var created, summary string
	err := row.Scan(&p.ID, &p.Name, &created, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := json.Unmarshal([]byte(summary), &p.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &p, nil
}
