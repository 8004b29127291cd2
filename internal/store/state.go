package store

import (
	"database/sql"
	"strings"
	"time"
)

// State is a per-owner key/value area. It holds in-progress exam state
// (answer snapshots, deadlines, navigation) and reviewers' grading drafts.

// SetState upserts a value for owner and key.
func (s *Store) SetState(owner, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO state (owner, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		owner, key, value, time.Now(),
	)
	return err
}

// GetState returns the value stored for owner and key.
// The boolean is false when the key is missing.
func (s *Store) GetState(owner, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE owner = ? AND key = ?`, owner, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteState removes one key.
func (s *Store) DeleteState(owner, key string) error {
	_, err := s.db.Exec(`DELETE FROM state WHERE owner = ? AND key = ?`, owner, key)
	return err
}

// DeleteStatePrefix removes every key of owner that starts with prefix.
func (s *Store) DeleteStatePrefix(owner, prefix string) error {
	_, err := s.db.Exec(
		`DELETE FROM state WHERE owner = ? AND key LIKE ? ESCAPE '\'`,
		owner, escapeLike(prefix)+"%",
	)
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
