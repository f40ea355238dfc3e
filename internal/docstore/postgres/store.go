package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

const defaultMaxAttempts = 5

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       text PRIMARY KEY,
	collection text NOT NULL,
	doc        jsonb NOT NULL,
	version    bigint NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection);
`

// Store is a docstore.Store backed by a single jsonb documents table. Atomic
// units run as serializable transactions; serialization failures are retried
// up to the attempt budget, matching the optimistic contract of the port.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, maxAttempts: defaultMaxAttempts}
}

// Migrate creates the documents table if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Read(ctx context.Context, path string) (docstore.Snapshot, error) {
	return readOne(ctx, s.db, path)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readOne(ctx context.Context, q queryer, path string) (docstore.Snapshot, error) {
	const query = `SELECT doc, version FROM documents WHERE path = $1`
	snap := docstore.Snapshot{Path: path}
	err := q.QueryRowContext(ctx, query, path).Scan(&snap.Data, &snap.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	snap.Exists = true
	return snap, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyWrite(ctx context.Context, e execer, w docstore.Write) error {
	if w.Delete {
		_, err := e.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, w.Path)
		return err
	}
	var query string
	if w.Mode == docstore.Merge {
		query = `INSERT INTO documents (path, collection, doc) VALUES ($1, $2, $3)
			ON CONFLICT (path) DO UPDATE
			SET doc = documents.doc || EXCLUDED.doc, version = documents.version + 1`
	} else {
		query = `INSERT INTO documents (path, collection, doc) VALUES ($1, $2, $3)
			ON CONFLICT (path) DO UPDATE
			SET doc = EXCLUDED.doc, version = documents.version + 1`
	}
	_, err := e.ExecContext(ctx, query, w.Path, docstore.Parent(w.Path), w.Data)
	return err
}

func (s *Store) Write(ctx context.Context, path string, data []byte, mode docstore.WriteMode) error {
	return applyWrite(ctx, s.db, docstore.Write{Path: path, Data: data, Mode: mode})
}

func (s *Store) Atomic(ctx context.Context, readSet []string, fn docstore.WriteFn) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, readSet, fn)
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			continue
		}
		return err
	}
	return shared.ErrConflictExhausted
}

func (s *Store) runOnce(ctx context.Context, readSet []string, fn docstore.WriteFn) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reads := make(map[string]docstore.Snapshot, len(readSet))
	for _, path := range readSet {
		snap, rerr := readOne(ctx, tx, path)
		if rerr != nil {
			return rerr
		}
		reads[path] = snap
	}

	writes, err := fn(reads)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err = applyWrite(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func (s *Store) List(ctx context.Context, collection string, opts docstore.ListOptions) ([]docstore.Document, error) {
	query := `SELECT path, doc FROM documents WHERE collection = $1 ORDER BY `
	args := []any{collection}
	if opts.OrderBy != "" {
		args = append(args, opts.OrderBy)
		query += fmt.Sprintf("doc->>$%d", len(args))
		if opts.Descending {
			query += " DESC"
		}
		query += ", path"
	} else {
		query += "path"
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: docstore.DocID(path), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Compile-time check: Store implements the docstore port.
var _ docstore.Store = (*Store)(nil)
