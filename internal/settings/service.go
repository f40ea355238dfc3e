package settings

import (
	"context"
	"encoding/json"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/models"
)

// DefaultCurrency is assumed until the user converts to something else.
const DefaultCurrency = "USD"

// Service reads the per-user general settings document. Writes happen only
// through the bulk rescale operation, which owns the currency code.
type Service struct {
	store docstore.Store
}

// NewService constructs the settings service.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Get returns the user's settings, defaulting the currency for users who
// never converted.
func (s *Service) Get(ctx context.Context, userID string) (models.Settings, error) {
	snap, err := s.store.Read(ctx, docstore.SettingsPath(userID))
	if err != nil {
		return models.Settings{}, err
	}
	if !snap.Exists {
		return models.Settings{Currency: DefaultCurrency}, nil
	}
	var st models.Settings
	if err := json.Unmarshal(snap.Data, &st); err != nil {
		return models.Settings{}, err
	}
	if st.Currency == "" {
		st.Currency = DefaultCurrency
	}
	return st, nil
}
