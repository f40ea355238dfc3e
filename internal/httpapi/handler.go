package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/finboard/business-stats-ledger/internal/business"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/query"
	"github.com/finboard/business-stats-ledger/internal/reconcile"
	"github.com/finboard/business-stats-ledger/internal/rescale"
	"github.com/finboard/business-stats-ledger/internal/savings"
	"github.com/finboard/business-stats-ledger/internal/settings"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

type userKey struct{}

// Handler exposes the ledger operations over HTTP. The authenticated
// principal arrives as an opaque identifier in the X-User-ID header; issuing
// and verifying it belongs to the identity provider, not this service.
type Handler struct {
	logger     *slog.Logger
	validate   *validator.Validate
	businesses *business.Service
	engine     *reconcile.Engine
	converter  *rescale.Converter
	savings    *savings.Service
	settings   *settings.Service
}

// NewHandler wires the services into an HTTP handler.
func NewHandler(
	logger *slog.Logger,
	businesses *business.Service,
	engine *reconcile.Engine,
	converter *rescale.Converter,
	savingsSvc *savings.Service,
	settingsSvc *settings.Service,
) *Handler {
	return &Handler{
		logger:     logger,
		validate:   validator.New(),
		businesses: businesses,
		engine:     engine,
		converter:  converter,
		savings:    savingsSvc,
		settings:   settingsSvc,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Route("/businesses", func(r chi.Router) {
			r.Get("/", h.listBusinesses)
			r.Post("/", h.createBusiness)
			r.Route("/{businessID}", func(r chi.Router) {
				r.Get("/", h.getBusiness)
				r.Get("/entries", h.listEntries)
				r.Get("/entries/export", h.exportEntries)
				r.Post("/entries", h.createEntry)
				r.Put("/entries/{entryID}", h.updateEntry)
				r.Delete("/entries/{entryID}", h.deleteEntry)
			})
		})

		r.Post("/rescale", h.rescaleCurrency)
		r.Get("/savings-rules", h.getSavingsRules)
		r.Put("/savings-rules", h.putSavingsRules)
		r.Get("/settings", h.getSettings)
	})

	return r
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		uid := req.Header.Get("X-User-ID")
		if uid == "" {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), userKey{}, uid)))
	})
}

func userID(req *http.Request) string {
	uid, _ := req.Context().Value(userKey{}).(string)
	return uid
}

type createBusinessRequest struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type"`
	Currency string `json:"currency" validate:"required,len=3"`
}

func (h *Handler) createBusiness(w http.ResponseWriter, req *http.Request) {
	var in createBusinessRequest
	if err := decodeJSON(req, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	biz, err := h.businesses.Create(req.Context(), userID(req), business.NewBusiness{
		Name:     in.Name,
		Type:     in.Type,
		Currency: in.Currency,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, biz)
}

func (h *Handler) listBusinesses(w http.ResponseWriter, req *http.Request) {
	businesses, err := h.businesses.List(req.Context(), userID(req))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, businesses)
}

func (h *Handler) getBusiness(w http.ResponseWriter, req *http.Request) {
	biz, err := h.businesses.Get(req.Context(), userID(req), chi.URLParam(req, "businessID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, biz)
}

type entryRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type" validate:"required,oneof=income expense"`
	Description string          `json:"description"`
}

func (h *Handler) createEntry(w http.ResponseWriter, req *http.Request) {
	var in entryRequest
	if err := decodeJSON(req, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entryID, err := h.engine.Create(req.Context(), userID(req), chi.URLParam(req, "businessID"), reconcile.EntryInput{
		Amount:      in.Amount,
		Type:        models.EntryType(in.Type),
		Description: in.Description,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": entryID})
}

func (h *Handler) updateEntry(w http.ResponseWriter, req *http.Request) {
	var in entryRequest
	if err := decodeJSON(req, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.engine.Update(req.Context(), userID(req),
		chi.URLParam(req, "businessID"), chi.URLParam(req, "entryID"),
		reconcile.EntryInput{
			Amount:      in.Amount,
			Type:        models.EntryType(in.Type),
			Description: in.Description,
		})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, req *http.Request) {
	err := h.engine.Delete(req.Context(), userID(req),
		chi.URLParam(req, "businessID"), chi.URLParam(req, "entryID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entriesResponse struct {
	Entries []models.Entry `json:"entries"`
	Totals  query.Totals   `json:"totals"`
}

func (h *Handler) filteredEntries(req *http.Request) ([]models.Entry, error) {
	window, err := query.ParseWindow(req.URL.Query().Get("window"), req.URL.Query().Get("period"))
	if err != nil {
		return nil, err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	snapshot, err := h.businesses.RecentEntries(req.Context(), userID(req), chi.URLParam(req, "businessID"), limit)
	if err != nil {
		return nil, err
	}
	return query.Apply(snapshot, query.Filter{
		Window: window,
		Search: req.URL.Query().Get("q"),
	}), nil
}

func (h *Handler) listEntries(w http.ResponseWriter, req *http.Request) {
	entries, err := h.filteredEntries(req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{
		Entries: entries,
		Totals:  query.Aggregate(entries),
	})
}

func (h *Handler) exportEntries(w http.ResponseWriter, req *http.Request) {
	biz, err := h.businesses.Get(req.Context(), userID(req), chi.URLParam(req, "businessID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	entries, err := h.filteredEntries(req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", biz.Name+"_report.csv"))
	if err := query.WriteCSV(w, biz.Currency, entries); err != nil {
		h.logger.Error("write csv export", slog.Any("error", err))
	}
}

type rescaleRequest struct {
	Operator string          `json:"operator" validate:"required,oneof=multiply divide"`
	Factor   decimal.Decimal `json:"factor"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

func (h *Handler) rescaleCurrency(w http.ResponseWriter, req *http.Request) {
	var in rescaleRequest
	if err := decodeJSON(req, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.converter.Rescale(req.Context(), userID(req),
		rescale.Operator(in.Operator), in.Factor, in.Currency)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type savingsRulesResponse struct {
	Config      models.SavingsConfig `json:"config"`
	Allocations []savings.Allocation `json:"allocations,omitempty"`
}

func (h *Handler) getSavingsRules(w http.ResponseWriter, req *http.Request) {
	cfg, err := h.savings.Rules(req.Context(), userID(req))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	resp := savingsRulesResponse{Config: cfg}
	// When a profit figure is supplied, return the split alongside the rules.
	if raw := req.URL.Query().Get("profit"); raw != "" {
		profit, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(w, h.logger, shared.NewValidation("profit", "must be a number"))
			return
		}
		resp.Allocations = savings.Allocate(profit, cfg.Allocations)
	}
	writeJSON(w, http.StatusOK, resp)
}

type savingsRulesRequest struct {
	Allocations []models.SavingsRule `json:"allocations" validate:"required"`
}

func (h *Handler) putSavingsRules(w http.ResponseWriter, req *http.Request) {
	var in savingsRulesRequest
	if err := decodeJSON(req, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.savings.SaveRules(req.Context(), userID(req), in.Allocations); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsResponse struct {
	Currency string `json:"currency"`
	Symbol   string `json:"symbol"`
}

func (h *Handler) getSettings(w http.ResponseWriter, req *http.Request) {
	st, err := h.settings.Get(req.Context(), userID(req))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Currency: st.Currency,
		Symbol:   models.CurrencySymbol(st.Currency),
	})
}
