package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

const defaultMaxAttempts = 5

type doc struct {
	data    []byte
	version int64
}

// Store is an in-memory docstore.Store with per-document versioning. Atomic
// units commit only if every document they read is still at the version it was
// read at, otherwise the unit is re-run against fresher snapshots. Versions
// are monotonic per path across delete and recreate, so a recreated document
// can never satisfy a stale read.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]*doc
	versions map[string]int64

	maxAttempts int

	// BeforeCommit, when set, runs between an atomic unit's read phase and its
	// commit attempt. Tests use it to interleave a conflicting writer.
	BeforeCommit func(attempt int)
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		docs:        make(map[string]*doc),
		versions:    make(map[string]int64),
		maxAttempts: defaultMaxAttempts,
	}
}

func (s *Store) Read(ctx context.Context, path string) (docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(path), nil
}

func (s *Store) Write(ctx context.Context, path string, data []byte, mode docstore.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(docstore.Write{Path: path, Data: data, Mode: mode})
}

func (s *Store) Atomic(ctx context.Context, readSet []string, fn docstore.WriteFn) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		reads := make(map[string]docstore.Snapshot, len(readSet))
		s.mu.RLock()
		for _, path := range readSet {
			reads[path] = s.snapshotLocked(path)
		}
		s.mu.RUnlock()

		writes, err := fn(reads)
		if err != nil {
			return err
		}

		if s.BeforeCommit != nil {
			s.BeforeCommit(attempt)
		}

		if s.commit(reads, writes) {
			return nil
		}
	}
	return shared.ErrConflictExhausted
}

// commit applies the write set iff every read document is unchanged.
func (s *Store) commit(reads map[string]docstore.Snapshot, writes []docstore.Write) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, snap := range reads {
		current, ok := s.docs[path]
		if !ok {
			if snap.Exists {
				return false
			}
			continue
		}
		if !snap.Exists || current.version != snap.Version {
			return false
		}
	}
	for _, w := range writes {
		// applyLocked only fails on unparseable merge payloads, which the
		// callers marshal themselves.
		_ = s.applyLocked(w)
	}
	return true
}

func (s *Store) snapshotLocked(path string) docstore.Snapshot {
	d, ok := s.docs[path]
	if !ok {
		return docstore.Snapshot{Path: path}
	}
	data := make([]byte, len(d.data))
	copy(data, d.data)
	return docstore.Snapshot{Path: path, Exists: true, Data: data, Version: d.version}
}

func (s *Store) applyLocked(w docstore.Write) error {
	if w.Delete {
		delete(s.docs, w.Path)
		return nil
	}
	existing := s.docs[w.Path]
	data := w.Data
	if w.Mode == docstore.Merge && existing != nil {
		merged, err := shallowMerge(existing.data, w.Data)
		if err != nil {
			return err
		}
		data = merged
	}
	version := s.versions[w.Path] + 1
	s.versions[w.Path] = version
	stored := make([]byte, len(data))
	copy(stored, data)
	s.docs[w.Path] = &doc{data: stored, version: version}
	return nil
}

func (s *Store) List(ctx context.Context, collection string, opts docstore.ListOptions) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := collection + "/"

	s.mu.RLock()
	type row struct {
		id   string
		data []byte
		key  string
	}
	var rows []row
	for path, d := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		id := path[len(prefix):]
		if strings.ContainsRune(id, '/') {
			continue // nested subcollection document
		}
		data := make([]byte, len(d.data))
		copy(data, d.data)
		rows = append(rows, row{id: id, data: data, key: orderKey(data, opts.OrderBy)})
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			if opts.Descending {
				return rows[i].key > rows[j].key
			}
			return rows[i].key < rows[j].key
		}
		return rows[i].id < rows[j].id
	})

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	out := make([]docstore.Document, len(rows))
	for i, r := range rows {
		out[i] = docstore.Document{ID: r.id, Data: r.data}
	}
	return out, nil
}

func orderKey(data []byte, field string) string {
	if field == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	v, ok := m[field]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

func shallowMerge(existing, incoming []byte) ([]byte, error) {
	var base, patch map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(incoming, &patch); err != nil {
		return nil, err
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}

// Compile-time check: Store implements the docstore port.
var _ docstore.Store = (*Store)(nil)
