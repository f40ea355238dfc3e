package docstore

import "context"

// WriteMode controls how a write combines with an existing document.
type WriteMode int

const (
	// Overwrite replaces the document wholesale.
	Overwrite WriteMode = iota
	// Merge shallow-merges the payload's top-level fields into the document.
	Merge
)

// Snapshot is one document as seen at read time. Version changes on every
// write and is what atomic units compare against at commit.
type Snapshot struct {
	Path    string
	Exists  bool
	Data    []byte
	Version int64
}

// Write is one pending document mutation produced by an atomic unit.
type Write struct {
	Path   string
	Data   []byte
	Mode   WriteMode
	Delete bool
}

// Document is a listing result: the document's ID (last path segment) and its
// raw JSON payload.
type Document struct {
	ID   string
	Data []byte
}

// ListOptions bound and order a collection listing. OrderBy names a top-level
// JSON field compared as a string; a zero Limit means no limit.
type ListOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// WriteFn computes an atomic unit's write set from fresh snapshots of its read
// set. It must be re-executable: implementations retry it with fresher reads
// after a conflict, so it may depend only on the snapshots it is given.
type WriteFn func(reads map[string]Snapshot) ([]Write, error)

// Store is the document-store port the ledger is built on. Atomic executes fn
// against fresh reads of readSet and commits its writes only if none of the
// read documents changed in between, retrying a bounded number of times before
// giving up with shared.ErrConflictExhausted. Errors returned by fn itself are
// never retried.
type Store interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	Write(ctx context.Context, path string, data []byte, mode WriteMode) error
	Atomic(ctx context.Context, readSet []string, fn WriteFn) error
	List(ctx context.Context, collection string, opts ListOptions) ([]Document, error)
}
