// Package query holds the pure, read-only view computations over a bounded
// in-memory snapshot of ledger entries. Nothing here touches the store, and
// the totals it produces are display-only: they cover the filtered subset and
// may legitimately differ from the persisted aggregate, which always reflects
// the entire history.
package query

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

// WindowKind selects the time-window granularity.
type WindowKind int

const (
	All WindowKind = iota
	Monthly
	Yearly
)

// Window is a time filter matched by string-prefix comparison against the
// entry date in ISO form: "2024-01" for a month, "2024" for a year.
type Window struct {
	Kind   WindowKind
	Period string
}

// AllTime matches every entry.
func AllTime() Window { return Window{Kind: All} }

// ParseWindow builds a Window from the wire form ("all", "monthly", "yearly")
// plus its period string.
func ParseWindow(kind, period string) (Window, error) {
	switch kind {
	case "", "all":
		return Window{Kind: All}, nil
	case "monthly":
		if _, err := time.Parse("2006-01", period); err != nil {
			return Window{}, shared.NewValidation("period", "monthly window needs a yyyy-mm period")
		}
		return Window{Kind: Monthly, Period: period}, nil
	case "yearly":
		if _, err := time.Parse("2006", period); err != nil {
			return Window{}, shared.NewValidation("period", "yearly window needs a yyyy period")
		}
		return Window{Kind: Yearly, Period: period}, nil
	default:
		return Window{}, shared.NewValidation("window", `must be "all", "monthly" or "yearly"`)
	}
}

func (w Window) matches(date time.Time) bool {
	if w.Kind == All {
		return true
	}
	return strings.HasPrefix(date.UTC().Format(time.RFC3339), w.Period)
}

// Filter combines a time window with a case-insensitive description search.
// Both predicates are ANDed; an empty search matches everything.
type Filter struct {
	Window Window
	Search string
}

// Apply returns the entries matching f, preserving input order. The input
// slice is never mutated.
func Apply(entries []models.Entry, f Filter) []models.Entry {
	needle := strings.ToLower(f.Search)
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if !f.Window.matches(e.Date) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Description), needle) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Totals is the display-only recomputation over a filtered subset.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Profit  decimal.Decimal `json:"profit"`
}

// Aggregate sums the visible entries: income and expense by type, profit as
// their difference.
func Aggregate(entries []models.Entry) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero, Profit: decimal.Zero}
	for _, e := range entries {
		if e.Type == models.Income {
			t.Income = t.Income.Add(e.Amount)
			t.Profit = t.Profit.Add(e.Amount)
		} else {
			t.Expense = t.Expense.Add(e.Amount)
			t.Profit = t.Profit.Sub(e.Amount)
		}
	}
	return t
}
