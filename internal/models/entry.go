package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType carries the sign of a ledger entry. The stored amount itself is
// always a non-negative magnitude.
type EntryType string

const (
	Income  EntryType = "income"
	Expense EntryType = "expense"
)

// Valid reports whether t is one of the two known entry types.
func (t EntryType) Valid() bool {
	return t == Income || t == Expense
}

// Entry is a single ledger record owned by exactly one business.
// Date is assigned by the server at creation time and never changes on edits.
type Entry struct {
	ID          string          `json:"id"`
	BusinessID  string          `json:"businessId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        EntryType       `json:"type"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}
