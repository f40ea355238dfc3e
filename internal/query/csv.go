package query

import (
	"encoding/csv"
	"io"

	"github.com/finboard/business-stats-ledger/internal/models"
)

var csvHeader = []string{"Date", "Description", "Type", "Amount", "Currency"}

// WriteCSV renders entries, in the order given, as a CSV report.
func WriteCSV(w io.Writer, currency string, entries []models.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Date.UTC().Format("2006-01-02"),
			e.Description,
			string(e.Type),
			e.Amount.String(),
			currency,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
