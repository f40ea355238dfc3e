package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/finboard/business-stats-ledger/internal/models"
)

// delta is an entry's contribution vector over (income, expense, profit).
// An update's net effect is the old contribution negated plus the new one.
type delta struct {
	income  decimal.Decimal
	expense decimal.Decimal
	profit  decimal.Decimal
}

func contribution(amount decimal.Decimal, t models.EntryType) delta {
	if t == models.Income {
		return delta{income: amount, expense: decimal.Zero, profit: amount}
	}
	return delta{income: decimal.Zero, expense: amount, profit: amount.Neg()}
}

func (d delta) neg() delta {
	return delta{income: d.income.Neg(), expense: d.expense.Neg(), profit: d.profit.Neg()}
}

func (d delta) add(o delta) delta {
	return delta{
		income:  d.income.Add(o.income),
		expense: d.expense.Add(o.expense),
		profit:  d.profit.Add(o.profit),
	}
}

func apply(s models.Stats, d delta) models.Stats {
	return models.Stats{
		TotalIncome:  s.TotalIncome.Add(d.income),
		TotalExpense: s.TotalExpense.Add(d.expense),
		NetProfit:    s.NetProfit.Add(d.profit),
	}
}
