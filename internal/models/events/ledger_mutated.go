package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mutation operations carried on LedgerMutated events.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// LedgerMutated is published after every committed entry mutation.
type LedgerMutated struct {
	Op          string          `json:"op"`
	UserID      string          `json:"user_id"`
	BusinessID  string          `json:"business_id"`
	EntryID     string          `json:"entry_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
