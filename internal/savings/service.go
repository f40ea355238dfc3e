package savings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Service manages the per-user savings allocation rules document.
type Service struct {
	store  docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the savings rules service.
func NewService(store docstore.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Rules reads the user's savings configuration. A missing document is not an
// error; it yields an empty config and the caller supplies defaults.
func (s *Service) Rules(ctx context.Context, userID string) (models.SavingsConfig, error) {
	snap, err := s.store.Read(ctx, docstore.SavingsRulesPath(userID))
	if err != nil {
		return models.SavingsConfig{}, err
	}
	if !snap.Exists {
		return models.SavingsConfig{}, nil
	}
	var cfg models.SavingsConfig
	if err := json.Unmarshal(snap.Data, &cfg); err != nil {
		return models.SavingsConfig{}, err
	}
	return cfg, nil
}

// SaveRules validates and stores a rule set via a merge write, so unrelated
// fields on the document survive.
func (s *Service) SaveRules(ctx context.Context, userID string, rules []models.SavingsRule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	cfg := models.SavingsConfig{Allocations: rules, UpdatedAt: s.now().UTC()}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.store.Write(ctx, docstore.SavingsRulesPath(userID), data, docstore.Merge); err != nil {
		return err
	}
	s.logger.Info("savings rules saved",
		slog.String("user_id", userID),
		slog.Int("rules", len(rules)))
	return nil
}

// ValidateRules rejects rule sets whose percents are negative or do not sum
// to exactly 100.
func ValidateRules(rules []models.SavingsRule) error {
	total := decimal.Zero
	for _, r := range rules {
		if r.Percent.IsNegative() {
			return shared.NewValidation("percent", fmt.Sprintf("rule %q must not be negative", r.Name))
		}
		total = total.Add(r.Percent)
	}
	if !total.Equal(hundred) {
		return shared.NewValidation("percent", fmt.Sprintf("allocations must total 100, got %s", total))
	}
	return nil
}

// Allocation is one rule's share of a profit figure.
type Allocation struct {
	RuleID string          `json:"rule_id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocate splits profit across the rules by percentage. Pure; no store
// access and no rounding beyond decimal division.
func Allocate(profit decimal.Decimal, rules []models.SavingsRule) []Allocation {
	out := make([]Allocation, 0, len(rules))
	for _, r := range rules {
		out = append(out, Allocation{
			RuleID: r.ID,
			Name:   r.Name,
			Amount: profit.Mul(r.Percent).Div(hundred),
		})
	}
	return out
}
