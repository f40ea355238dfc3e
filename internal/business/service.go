package business

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

const defaultPageLimit = 500

// Service manages business aggregate documents and bounded entry snapshots.
// It never writes stats beyond their zero birth value; those belong to the
// reconciliation engine and the bulk rescale operation.
type Service struct {
	store     docstore.Store
	logger    *slog.Logger
	pageLimit int
	now       func() time.Time
	newID     func() string
}

// Option customises a Service.
type Option func(*Service)

// WithPageLimit caps the recent-entry snapshot size.
func WithPageLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageLimit = n
		}
	}
}

// WithClock overrides the creation clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the business service.
func NewService(store docstore.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    logger,
		pageLimit: defaultPageLimit,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBusiness is the caller-supplied part of a business document.
type NewBusiness struct {
	Name     string
	Type     string
	Currency string
}

// Create writes a new business with all three stats at zero.
func (s *Service) Create(ctx context.Context, userID string, in NewBusiness) (models.Business, error) {
	if in.Name == "" {
		return models.Business{}, shared.NewValidation("name", "must not be empty")
	}
	if in.Currency == "" {
		return models.Business{}, shared.NewValidation("currency", "must not be empty")
	}

	biz := models.Business{
		ID:        s.newID(),
		Name:      in.Name,
		Type:      in.Type,
		Currency:  in.Currency,
		Stats:     models.ZeroStats(),
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(biz)
	if err != nil {
		return models.Business{}, err
	}
	if err := s.store.Write(ctx, docstore.BusinessPath(userID, biz.ID), data, docstore.Overwrite); err != nil {
		return models.Business{}, err
	}
	s.logger.Info("business created",
		slog.String("user_id", userID),
		slog.String("business_id", biz.ID))
	return biz, nil
}

// List returns every business owned by userID.
func (s *Service) List(ctx context.Context, userID string) ([]models.Business, error) {
	docs, err := s.store.List(ctx, docstore.BusinessCollection(userID), docstore.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]models.Business, 0, len(docs))
	for _, d := range docs {
		var biz models.Business
		if err := json.Unmarshal(d.Data, &biz); err != nil {
			return nil, err
		}
		out = append(out, biz)
	}
	return out, nil
}

// Get reads one business aggregate.
func (s *Service) Get(ctx context.Context, userID, businessID string) (models.Business, error) {
	snap, err := s.store.Read(ctx, docstore.BusinessPath(userID, businessID))
	if err != nil {
		return models.Business{}, err
	}
	if !snap.Exists {
		return models.Business{}, shared.ErrAggregateNotFound
	}
	var biz models.Business
	if err := json.Unmarshal(snap.Data, &biz); err != nil {
		return models.Business{}, err
	}
	return biz, nil
}

// RecentEntries returns the bounded snapshot all in-scope views are built on:
// at most limit entries (capped by the configured page limit), newest first.
func (s *Service) RecentEntries(ctx context.Context, userID, businessID string, limit int) ([]models.Entry, error) {
	if limit <= 0 || limit > s.pageLimit {
		limit = s.pageLimit
	}
	docs, err := s.store.List(ctx, docstore.EntryCollection(userID, businessID), docstore.ListOptions{
		OrderBy:    "date",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Entry, 0, len(docs))
	for _, d := range docs {
		var entry models.Entry
		if err := json.Unmarshal(d.Data, &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
