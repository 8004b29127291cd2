package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Collection is a set of JSON documents of one type. Writes replace or
// merge whole documents; there are no cross-document transactions.
type Collection[T any] struct {
	db   *sql.DB
	name string
	// id points at the document's identifier field.
	id func(*T) *string
}

func newCollection[T any](s *Store, name string, id func(*T) *string) Collection[T] {
	return Collection[T]{db: s.db, name: name, id: id}
}

// List returns all documents in creation order.
func (c Collection[T]) List() ([]T, error) {
	return c.query(`ORDER BY created_at, rowid`)
}

func (c Collection[T]) query(clause string, args ...any) ([]T, error) {
	q := `SELECT id, data FROM documents WHERE collection = ? ` + clause
	rows, err := c.db.Query(q, append([]any{c.name}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []T
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc, err := c.decode(id, data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Get returns the document with the given ID, or nil if absent.
func (c Collection[T]) Get(id string) (*T, error) {
	var data string
	err := c.db.QueryRow(
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, c.name, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.decode(id, data)
}

func (c Collection[T]) decode(id, data string) (*T, error) {
	var doc T
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	*c.id(&doc) = id
	return &doc, nil
}

// Create inserts a new document, generating an ID when the document has none.
// An existing document with the same ID yields ErrDuplicate.
func (c Collection[T]) Create(doc T) (string, error) {
	idp := c.id(&doc)
	if *idp == "" {
		*idp = uuid.NewString()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", c.name, err)
	}
	now := time.Now()
	res, err := c.db.Exec(
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO NOTHING`,
		c.name, *idp, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", c.name, *idp, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", fmt.Errorf("insert %s/%s: %w", c.name, *idp, ErrDuplicate)
	}
	return *idp, nil
}

// Put writes the whole document, creating it if needed.
func (c Collection[T]) Put(doc T) error {
	id := *c.id(&doc)
	if id == "" {
		return fmt.Errorf("put %s: empty id", c.name)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	now := time.Now()
	_, err = c.db.Exec(
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		c.name, id, string(data), now, now,
	)
	return err
}

// Update merges partial into the stored document at the top level.
// A nil value removes the field. The merged document must still decode as T.
func (c Collection[T]) Update(id string, partial map[string]any) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRow(
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, c.name, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("update %s/%s: %w", c.name, id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	for k, v := range partial {
		if v == nil {
			delete(fields, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", k, err)
		}
		fields[k] = raw
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var check T
	if err := json.Unmarshal(merged, &check); err != nil {
		return fmt.Errorf("update %s/%s: %w", c.name, id, err)
	}

	if _, err := tx.Exec(
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(merged), time.Now(), c.name, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a document.
func (c Collection[T]) Delete(id string) error {
	res, err := c.db.Exec(`DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", c.name, id, ErrNotFound)
	}
	return nil
}

// Count returns the number of documents.
func (c Collection[T]) Count() (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
	return n, err
}
