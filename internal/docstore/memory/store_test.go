package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	snap, err := store.Read(ctx, "users/u/settings/general")
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	require.NoError(t, store.Write(ctx, "users/u/settings/general",
		[]byte(`{"currency":"USD"}`), docstore.Overwrite))

	snap, err = store.Read(ctx, "users/u/settings/general")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.JSONEq(t, `{"currency":"USD"}`, string(snap.Data))
	assert.Equal(t, int64(1), snap.Version)

	require.NoError(t, store.Write(ctx, "users/u/settings/general",
		[]byte(`{"currency":"PKR"}`), docstore.Overwrite))
	snap, err = store.Read(ctx, "users/u/settings/general")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version, "every write bumps the version")
}

func TestMergePreservesOtherFields(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/savings_rules/current"

	require.NoError(t, store.Write(ctx, path,
		[]byte(`{"allocations":[],"note":"keep me"}`), docstore.Overwrite))
	require.NoError(t, store.Write(ctx, path,
		[]byte(`{"allocations":[{"id":"1"}]}`), docstore.Merge))

	snap, err := store.Read(ctx, path)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(snap.Data, &m))
	assert.Contains(t, m, "note")
	assert.JSONEq(t, `[{"id":"1"}]`, string(m["allocations"]))
}

func TestListOrderLimitAndNesting(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	put := func(path, date string) {
		require.NoError(t, store.Write(ctx, path,
			[]byte(`{"date":"`+date+`"}`), docstore.Overwrite))
	}
	put("users/u/businesses/b/transactions/t1", "2024-01-10T00:00:00Z")
	put("users/u/businesses/b/transactions/t2", "2024-03-05T00:00:00Z")
	put("users/u/businesses/b/transactions/t3", "2024-02-20T00:00:00Z")
	// nested subcollection documents are not direct children
	put("users/u/businesses/b/transactions/t1/meta/x", "2030-01-01T00:00:00Z")

	docs, err := store.List(ctx, "users/u/businesses/b/transactions", docstore.ListOptions{
		OrderBy: "date", Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "t2", docs[0].ID)
	assert.Equal(t, "t3", docs[1].ID)
	assert.Equal(t, "t1", docs[2].ID)

	docs, err = store.List(ctx, "users/u/businesses/b/transactions", docstore.ListOptions{
		OrderBy: "date", Descending: true, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "t2", docs[0].ID)

	// without an order field the listing falls back to ID order
	docs, err = store.List(ctx, "users/u/businesses/b/transactions", docstore.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "t1", docs[0].ID)
}

func TestAtomicCommitsReadConsistentWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b"
	require.NoError(t, store.Write(ctx, path, []byte(`{"n":1}`), docstore.Overwrite))

	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		var doc struct{ N int }
		require.NoError(t, json.Unmarshal(reads[path].Data, &doc))
		data, _ := json.Marshal(map[string]int{"n": doc.N + 1})
		return []docstore.Write{{Path: path, Data: data, Mode: docstore.Overwrite}}, nil
	})
	require.NoError(t, err)

	snap, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(snap.Data))
}

func TestAtomicRetriesOnConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b"
	require.NoError(t, store.Write(ctx, path, []byte(`{"n":0}`), docstore.Overwrite))

	conflicted := false
	store.BeforeCommit = func(attempt int) {
		if attempt == 1 {
			conflicted = true
			require.NoError(t, store.Write(ctx, path, []byte(`{"n":10}`), docstore.Overwrite))
		}
	}

	runs := 0
	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		runs++
		var doc struct{ N int }
		require.NoError(t, json.Unmarshal(reads[path].Data, &doc))
		data, _ := json.Marshal(map[string]int{"n": doc.N + 1})
		return []docstore.Write{{Path: path, Data: data, Mode: docstore.Overwrite}}, nil
	})
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Equal(t, 2, runs, "the unit must re-run against fresh reads")

	snap, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":11}`, string(snap.Data), "retry must see the rival write")
}

func TestAtomicConflictExhausted(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b"
	require.NoError(t, store.Write(ctx, path, []byte(`{"n":0}`), docstore.Overwrite))

	store.BeforeCommit = func(attempt int) {
		// a rival lands before every commit attempt
		require.NoError(t, store.Write(ctx, path, []byte(`{"n":99}`), docstore.Overwrite))
	}

	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		return []docstore.Write{{Path: path, Data: []byte(`{"n":1}`), Mode: docstore.Overwrite}}, nil
	})
	require.ErrorIs(t, err, shared.ErrConflictExhausted)
}

func TestAtomicFnErrorNotRetried(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	runs := 0
	err := store.Atomic(ctx, []string{"users/u/businesses/missing"}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		runs++
		assert.False(t, reads["users/u/businesses/missing"].Exists)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, runs, "business-logic failures are the caller's, not retried")
}

func TestAtomicDetectsCreateOfReadMissingDoc(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b"

	runs := 0
	store.BeforeCommit = func(attempt int) {
		if attempt == 1 {
			require.NoError(t, store.Write(ctx, path, []byte(`{"n":5}`), docstore.Overwrite))
		}
	}
	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		runs++
		if !reads[path].Exists {
			return nil, nil
		}
		return []docstore.Write{{Path: path, Data: []byte(`{"n":6}`), Mode: docstore.Overwrite}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs, "a doc created under the unit's feet is a conflict")
}

// A delete-then-recreate at the same path must not hand the recreated doc the
// version a stale reader is still holding.
func TestAtomicDetectsDeleteRecreate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b"
	require.NoError(t, store.Write(ctx, path, []byte(`{"n":1}`), docstore.Overwrite))

	store.BeforeCommit = func(attempt int) {
		store.BeforeCommit = nil
		require.NoError(t, store.Atomic(ctx, nil, func(map[string]docstore.Snapshot) ([]docstore.Write, error) {
			return []docstore.Write{{Path: path, Delete: true}}, nil
		}))
		require.NoError(t, store.Write(ctx, path, []byte(`{"n":7}`), docstore.Overwrite))
	}

	runs := 0
	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		runs++
		var doc struct{ N int }
		require.NoError(t, json.Unmarshal(reads[path].Data, &doc))
		data, _ := json.Marshal(map[string]int{"n": doc.N + 1})
		return []docstore.Write{{Path: path, Data: data, Mode: docstore.Overwrite}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs, "the recreated doc must read as a conflict")

	snap, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":8}`, string(snap.Data))
	assert.Equal(t, int64(3), snap.Version, "versions keep counting across delete/recreate")
}

func TestAtomicDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	path := "users/u/businesses/b/transactions/t1"
	require.NoError(t, store.Write(ctx, path, []byte(`{}`), docstore.Overwrite))

	err := store.Atomic(ctx, []string{path}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		return []docstore.Write{{Path: path, Delete: true}}, nil
	})
	require.NoError(t, err)

	snap, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}
