package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SavingsRule is one percentage slice of a user's savings allocation.
type SavingsRule struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
	Color   string          `json:"color"`
}

// SavingsConfig is the single per-user savings-rules document. A valid config
// has allocation percents summing to exactly 100.
type SavingsConfig struct {
	Allocations []SavingsRule `json:"allocations"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
