package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/interfaces"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/models/events"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

// Engine keeps a business's denormalized stats in lockstep with its ledger
// entries. Every mutation pairs the entry write with a compensating aggregate
// write inside one atomic unit, so both land or neither does. The delta is
// always computed from pre-image values read inside that unit, never from a
// caller-supplied copy.
type Engine struct {
	store  docstore.Store
	events interfaces.EventPublisher
	logger *slog.Logger
	topic  string
	now    func() time.Time
	newID  func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithPublisher emits a LedgerMutated event on topic after each committed
// mutation. Publishing is best effort and never fails the operation.
func WithPublisher(p interfaces.EventPublisher, topic string) Option {
	return func(e *Engine) {
		e.events = p
		e.topic = topic
	}
}

// WithClock overrides the entry-date clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides entry ID generation. Intended for tests.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine constructs the reconciliation engine over a document store.
func NewEngine(store docstore.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntryInput is the caller-supplied part of a ledger entry.
type EntryInput struct {
	Amount      decimal.Decimal
	Type        models.EntryType
	Description string
}

func (in EntryInput) validate() error {
	if in.Amount.IsNegative() {
		return shared.NewValidation("amount", "must not be negative")
	}
	if !in.Type.Valid() {
		return shared.NewValidation("type", `must be "income" or "expense"`)
	}
	return nil
}

// Create inserts a new entry and applies its contribution to the owning
// aggregate in one atomic unit. The entry ID and server-assigned date are
// generated here; the generated ID is returned.
func (e *Engine) Create(ctx context.Context, userID, businessID string, in EntryInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	bizPath := docstore.BusinessPath(userID, businessID)
	entryID := e.newID()
	entryPath := docstore.EntryPath(userID, businessID, entryID)

	err := e.store.Atomic(ctx, []string{bizPath}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		biz, err := decodeBusiness(reads[bizPath])
		if err != nil {
			return nil, err
		}
		biz.Stats = apply(biz.Stats, contribution(in.Amount, in.Type))

		entry := models.Entry{
			ID:          entryID,
			BusinessID:  businessID,
			Amount:      in.Amount,
			Type:        in.Type,
			Description: in.Description,
			// Second granularity keeps the stored RFC3339 text fixed-width,
			// so date-ordered listings compare exactly.
			Date: e.now().UTC().Truncate(time.Second),
		}
		return []docstore.Write{
			overwrite(bizPath, biz),
			overwrite(entryPath, entry),
		}, nil
	})
	if err != nil {
		return "", err
	}

	e.publish(events.OpCreated, userID, businessID, entryID, in)
	return entryID, nil
}

// Update rewrites an entry's amount, type and description, applying the net
// delta (new contribution minus old contribution) to the aggregate. The old
// contribution is taken from the entry pre-image read inside the atomic unit,
// which is what makes concurrent edits safe. The entry date is untouched.
func (e *Engine) Update(ctx context.Context, userID, businessID, entryID string, in EntryInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	bizPath := docstore.BusinessPath(userID, businessID)
	entryPath := docstore.EntryPath(userID, businessID, entryID)

	err := e.store.Atomic(ctx, []string{bizPath, entryPath}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		entry, err := decodeEntry(reads[entryPath])
		if err != nil {
			return nil, err
		}
		biz, err := decodeBusiness(reads[bizPath])
		if err != nil {
			return nil, err
		}

		net := contribution(entry.Amount, entry.Type).neg().add(contribution(in.Amount, in.Type))
		biz.Stats = apply(biz.Stats, net)

		entry.Amount = in.Amount
		entry.Type = in.Type
		entry.Description = in.Description

		return []docstore.Write{
			overwrite(bizPath, biz),
			overwrite(entryPath, entry),
		}, nil
	})
	if err != nil {
		return err
	}

	e.publish(events.OpUpdated, userID, businessID, entryID, in)
	return nil
}

// Delete removes an entry and reverses its contribution on the aggregate.
func (e *Engine) Delete(ctx context.Context, userID, businessID, entryID string) error {
	bizPath := docstore.BusinessPath(userID, businessID)
	entryPath := docstore.EntryPath(userID, businessID, entryID)

	var removed models.Entry
	err := e.store.Atomic(ctx, []string{bizPath, entryPath}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		entry, err := decodeEntry(reads[entryPath])
		if err != nil {
			return nil, err
		}
		biz, err := decodeBusiness(reads[bizPath])
		if err != nil {
			return nil, err
		}

		biz.Stats = apply(biz.Stats, contribution(entry.Amount, entry.Type).neg())
		removed = entry

		return []docstore.Write{
			overwrite(bizPath, biz),
			{Path: entryPath, Delete: true},
		}, nil
	})
	if err != nil {
		return err
	}

	e.publish(events.OpDeleted, userID, businessID, entryID, EntryInput{
		Amount:      removed.Amount,
		Type:        removed.Type,
		Description: removed.Description,
	})
	return nil
}

func (e *Engine) publish(op, userID, businessID, entryID string, in EntryInput) {
	if e.events == nil {
		return
	}
	ev := events.LedgerMutated{
		Op:          op,
		UserID:      userID,
		BusinessID:  businessID,
		EntryID:     entryID,
		Amount:      in.Amount,
		Type:        string(in.Type),
		Description: in.Description,
		OccurredAt:  e.now().UTC(),
	}
	if err := e.events.Publish(e.topic, ev); err != nil {
		e.logger.Warn("publish ledger event",
			slog.String("op", op),
			slog.String("entry_id", entryID),
			slog.Any("error", err))
	}
}

func decodeBusiness(snap docstore.Snapshot) (models.Business, error) {
	if !snap.Exists {
		return models.Business{}, shared.ErrAggregateNotFound
	}
	var biz models.Business
	if err := json.Unmarshal(snap.Data, &biz); err != nil {
		return models.Business{}, err
	}
	return biz, nil
}

func decodeEntry(snap docstore.Snapshot) (models.Entry, error) {
	if !snap.Exists {
		return models.Entry{}, shared.ErrEntryNotFound
	}
	var entry models.Entry
	if err := json.Unmarshal(snap.Data, &entry); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func overwrite(path string, v any) docstore.Write {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // domain structs always marshal
	}
	return docstore.Write{Path: path, Data: data, Mode: docstore.Overwrite}
}
