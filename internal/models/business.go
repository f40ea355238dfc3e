package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the denormalized rolling aggregate kept on every business document.
// At rest NetProfit always equals TotalIncome minus TotalExpense, and the two
// totals equal the sums over the business's surviving entries. Only the
// reconciliation engine and the bulk rescale operation may write it.
type Stats struct {
	TotalIncome  decimal.Decimal `json:"totalIncome"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
	NetProfit    decimal.Decimal `json:"netProfit"`
}

// ZeroStats returns the aggregate a freshly created business starts with.
func ZeroStats() Stats {
	return Stats{
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		NetProfit:    decimal.Zero,
	}
}

// Business is one income/expense ledger owned by a user.
type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Currency  string    `json:"currency"`
	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"createdAt"`
}
