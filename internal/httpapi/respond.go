package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/finboard/business-stats-ledger/internal/shared"
)

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func decodeJSON(req *http.Request, target any) error {
	return json.NewDecoder(req.Body).Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, problem{Title: title, Status: status, Detail: detail})
}

// respondError maps the domain error taxonomy to HTTP responses.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *shared.ValidationError
	var perr *shared.PartialConversionError
	switch {
	// Checked before the sentinel cases: the partial error wraps its cause, so
	// a half-converted account whose failure was a conflict or a vanished
	// business must still surface the converted list, not a retryable 409/404.
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, struct {
			problem
			Converted []string `json:"converted"`
			Failed    string   `json:"failed"`
		}{
			problem:   problem{Title: "Partial Conversion", Status: http.StatusInternalServerError, Detail: perr.Error()},
			Converted: perr.Converted,
			Failed:    perr.Failed,
		})
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, "Validation Failed", verr.Error())
	case errors.Is(err, shared.ErrAggregateNotFound), errors.Is(err, shared.ErrEntryNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflictExhausted):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		logger.Error("request failed", slog.Any("error", err))
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
