// Package sqlstore keeps document collections in a single SQL table
// (collection, id, body) through sqlx. Postgres, MySQL and SQLite are supported.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"medipos/m/internal/database"
	"medipos/m/internal/store"
)

// Store implements store.Store on a migrated SQL database.
type Store struct {
	db      *sqlx.DB
	backend string
}

// New wraps db. backend is one of the database package constants.
func New(db *sqlx.DB, backend string) *Store {
	return &Store{db: db, backend: backend}
}

type row struct {
	ID   string `db:"id"`
	Body string `db:"body"`
}

// forUpdate locks selected rows. SQLite runs a single connection, so
// transactions are already serialized.
func (s *Store) forUpdate() string {
	if s.backend == database.SQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// load fetches candidates for filter and matches them in process. An id
// equality is pushed down to the primary key.
func (s *Store) load(ctx context.Context, q sqlx.QueryerContext, collection string, filter store.Filter, lock bool) ([]store.Document, error) {
	query := `SELECT id, body FROM documents WHERE collection = ?`
	args := []any{collection}
	if id, ok := filter.IDEquals(); ok {
		query += ` AND id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY id`
	if lock {
		query += s.forUpdate()
	}

	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(rows))
	for _, r := range rows {
		var doc store.Document
		if err := json.Unmarshal([]byte(r.Body), &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, r.ID, err)
		}
		if store.Match(doc, filter) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *Store) Find(ctx context.Context, collection string, filter store.Filter, opts ...store.FindOption) ([]store.Document, error) {
	docs, err := s.load(ctx, s.db, collection, filter, false)
	if err != nil {
		return nil, err
	}
	return store.SortDocuments(docs, store.ApplyFindOptions(opts)), nil
}

func (s *Store) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	docs, err := s.load(ctx, s.db, collection, filter, false)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	return s.InsertMany(ctx, collection, []store.Document{doc})
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertAll(ctx, tx, collection, docs)
	})
}

func (s *Store) insertAll(ctx context.Context, tx *sqlx.Tx, collection string, docs []store.Document) error {
	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, doc := range docs {
		body, err := encode(doc)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.ID(), body); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateID
			}
			return err
		}
	}
	return nil
}

func (s *Store) UpdateOne(ctx context.Context, collection string, filter store.Filter, patch store.Document) (bool, error) {
	clean, err := store.Normalize(patch)
	if err != nil {
		return false, err
	}
	delete(clean, "id")
	matched := false
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		docs, err := s.load(ctx, tx, collection, filter, true)
		if err != nil || len(docs) == 0 {
			return err
		}
		matched = true
		return s.write(ctx, tx, collection, docs[0].Merge(clean))
	})
	return matched, err
}

func (s *Store) write(ctx context.Context, tx *sqlx.Tx, collection string, doc store.Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE documents SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND id = ?`), body, collection, doc.ID())
	return err
}

func (s *Store) Upsert(ctx context.Context, collection string, doc store.Document) error {
	if doc.ID() == "" {
		return store.ErrMissingID
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?`), collection, doc.ID()); err != nil {
			return err
		}
		if n > 0 {
			return s.write(ctx, tx, collection, doc)
		}
		return s.insertAll(ctx, tx, collection, []store.Document{doc})
	})
}

func (s *Store) DeleteOne(ctx context.Context, collection string, filter store.Filter) (bool, error) {
	deleted := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		docs, err := s.load(ctx, tx, collection, filter, true)
		if err != nil || len(docs) == 0 {
			return err
		}
		res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, docs[0].ID())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	if len(filter.All) == 0 && len(filter.Any) == 0 {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM documents WHERE collection = ?`), collection)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		docs, err := s.load(ctx, tx, collection, filter, true)
		if err != nil || len(docs) == 0 {
			return err
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID()
		}
		query, args, err := sqlx.In(`DELETE FROM documents WHERE collection = ? AND id IN (?)`, collection, ids)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func (s *Store) Count(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	if len(filter.All) == 0 && len(filter.Any) == 0 {
		var n int64
		err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM documents WHERE collection = ?`), collection)
		return n, err
	}
	docs, err := s.load(ctx, s.db, collection, filter, false)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (s *Store) Increment(ctx context.Context, collection, id, field string, delta, floor int64) (int64, error) {
	var next int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		docs, err := s.load(ctx, tx, collection, store.ByID(id), true)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return store.ErrNotFound
		}
		doc := docs[0]
		current, _ := doc.Int(field)
		next = current + delta
		if floor != store.NoFloor && next < floor {
			next = current
			return store.ErrBelowFloor
		}
		doc[field] = next
		return s.write(ctx, tx, collection, doc)
	})
	return next, err
}

// ReplaceAll runs in one transaction, so readers see either the old or the
// new content of the collection.
func (s *Store) ReplaceAll(ctx context.Context, collection string, docs []store.Document) error {
	for _, doc := range docs {
		if doc.ID() == "" {
			return store.ErrMissingID
		}
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM documents WHERE collection = ?`), collection); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		return s.insertAll(ctx, tx, collection, docs)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func encode(doc store.Document) (string, error) {
	if doc.ID() == "" {
		return "", store.ErrMissingID
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
