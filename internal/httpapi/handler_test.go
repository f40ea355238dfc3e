package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finboard/business-stats-ledger/internal/business"
	"github.com/finboard/business-stats-ledger/internal/docstore/memory"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/query"
	"github.com/finboard/business-stats-ledger/internal/reconcile"
	"github.com/finboard/business-stats-ledger/internal/rescale"
	"github.com/finboard/business-stats-ledger/internal/savings"
	"github.com/finboard/business-stats-ledger/internal/settings"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()

	handler := NewHandler(logger,
		business.NewService(store, logger),
		reconcile.NewEngine(store, logger),
		rescale.NewConverter(store, logger),
		savings.NewService(store, logger),
		settings.NewService(store),
	)
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func createBusiness(t *testing.T, srv *httptest.Server, user, name string) models.Business {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/businesses", user, map[string]string{
		"name": name, "type": "retail", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var biz models.Business
	decodeBody(t, resp, &biz)
	return biz
}

func postEntry(t *testing.T, srv *httptest.Server, user, businessID, amount, typ, desc string) string {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/businesses/"+businessID+"/entries", user, map[string]string{
		"amount": amount, "type": typ, "description": desc,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]string
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresUserHeader(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/businesses", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBusinessAndEntryLifecycle(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")

	postEntry(t, srv, "u1", biz.ID, "500", "income", "Salary")
	fuelID := postEntry(t, srv, "u1", biz.ID, "120", "expense", "Fuel")

	var got models.Business
	resp := do(t, srv, http.MethodGet, "/businesses/"+biz.ID, "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &got)
	assert.True(t, got.Stats.TotalIncome.Equal(decimal.NewFromInt(500)))
	assert.True(t, got.Stats.TotalExpense.Equal(decimal.NewFromInt(120)))
	assert.True(t, got.Stats.NetProfit.Equal(decimal.NewFromInt(380)))

	// edit the expense up to 150
	resp = do(t, srv, http.MethodPut, "/businesses/"+biz.ID+"/entries/"+fuelID, "u1", map[string]string{
		"amount": "150", "type": "expense", "description": "Fuel",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// then remove it entirely
	resp = do(t, srv, http.MethodDelete, "/businesses/"+biz.ID+"/entries/"+fuelID, "u1", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/businesses/"+biz.ID, "u1", nil)
	decodeBody(t, resp, &got)
	assert.True(t, got.Stats.TotalIncome.Equal(decimal.NewFromInt(500)))
	assert.True(t, got.Stats.TotalExpense.IsZero())
	assert.True(t, got.Stats.NetProfit.Equal(decimal.NewFromInt(500)))
}

func TestEntryValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")

	resp := do(t, srv, http.MethodPost, "/businesses/"+biz.ID+"/entries", "u1", map[string]string{
		"amount": "10", "type": "transfer",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/businesses/"+biz.ID+"/entries", "u1", map[string]string{
		"amount": "-10", "type": "income",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntryNotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")

	resp := do(t, srv, http.MethodDelete, "/businesses/"+biz.ID+"/entries/nope", "u1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/businesses/nope", "u1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEntriesFilteredWithTotals(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")
	postEntry(t, srv, "u1", biz.ID, "500", "income", "Client retainer")
	postEntry(t, srv, "u1", biz.ID, "120", "expense", "Fuel for van")

	var out struct {
		Entries []models.Entry `json:"entries"`
		Totals  query.Totals   `json:"totals"`
	}

	resp := do(t, srv, http.MethodGet, "/businesses/"+biz.ID+"/entries", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	require.Len(t, out.Entries, 2)
	assert.True(t, out.Totals.Income.Equal(decimal.NewFromInt(500)))
	assert.True(t, out.Totals.Expense.Equal(decimal.NewFromInt(120)))
	assert.True(t, out.Totals.Profit.Equal(decimal.NewFromInt(380)))

	resp = do(t, srv, http.MethodGet, "/businesses/"+biz.ID+"/entries?q=fuel", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "Fuel for van", out.Entries[0].Description)
	assert.True(t, out.Totals.Profit.Equal(decimal.NewFromInt(-120)))

	resp = do(t, srv, http.MethodGet, "/businesses/"+biz.ID+"/entries?window=monthly&period=bogus", "u1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportEntriesCSV(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")
	postEntry(t, srv, "u1", biz.ID, "500", "income", "Client retainer")

	resp := do(t, srv, http.MethodGet, "/businesses/"+biz.ID+"/entries/export", "u1", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Bakery_report.csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Description,Type,Amount,Currency", lines[0])
	assert.Contains(t, lines[1], "Client retainer,income,500,USD")
}

func TestRescaleEndpoint(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")
	postEntry(t, srv, "u1", biz.ID, "10", "income", "Sale")

	resp := do(t, srv, http.MethodPost, "/rescale", "u1", map[string]string{
		"operator": "multiply", "factor": "280", "currency": "PKR",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result rescale.Result
	decodeBody(t, resp, &result)
	assert.Equal(t, []string{biz.ID}, result.Converted)
	assert.Equal(t, "PKR", result.Currency)

	var got models.Business
	resp = do(t, srv, http.MethodGet, "/businesses/"+biz.ID, "u1", nil)
	decodeBody(t, resp, &got)
	assert.True(t, got.Stats.TotalIncome.Equal(decimal.NewFromInt(2800)))
	assert.Equal(t, "PKR", got.Currency)

	var st struct {
		Currency string `json:"currency"`
		Symbol   string `json:"symbol"`
	}
	resp = do(t, srv, http.MethodGet, "/settings", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &st)
	assert.Equal(t, "PKR", st.Currency)

	// unknown operator is rejected before any store work
	resp = do(t, srv, http.MethodPost, "/rescale", "u1", map[string]string{
		"operator": "sqrt", "factor": "2", "currency": "EUR",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSavingsRulesEndpoints(t *testing.T) {
	srv := newTestServer(t)

	// no document yet: empty config, not an error
	var out struct {
		Config      models.SavingsConfig `json:"config"`
		Allocations []savings.Allocation `json:"allocations"`
	}
	resp := do(t, srv, http.MethodGet, "/savings-rules", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	assert.Empty(t, out.Config.Allocations)

	rules := []map[string]any{
		{"id": "r1", "name": "Emergency", "percent": "60", "color": "#e11"},
		{"id": "r2", "name": "Travel", "percent": "40", "color": "#11e"},
	}
	resp = do(t, srv, http.MethodPut, "/savings-rules", "u1", map[string]any{"allocations": rules})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/savings-rules?profit=1000", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	require.Len(t, out.Config.Allocations, 2)
	require.Len(t, out.Allocations, 2)
	assert.True(t, out.Allocations[0].Amount.Equal(decimal.NewFromInt(600)))
	assert.True(t, out.Allocations[1].Amount.Equal(decimal.NewFromInt(400)))

	// percents that do not total 100 are rejected
	resp = do(t, srv, http.MethodPut, "/savings-rules", "u1", map[string]any{
		"allocations": []map[string]any{{"id": "r1", "name": "Half", "percent": "50"}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettingsDefault(t *testing.T) {
	srv := newTestServer(t)

	var st struct {
		Currency string `json:"currency"`
		Symbol   string `json:"symbol"`
	}
	resp := do(t, srv, http.MethodGet, "/settings", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &st)
	assert.Equal(t, "USD", st.Currency)
	assert.Equal(t, "$", st.Symbol)
}

func TestUsersAreIsolated(t *testing.T) {
	srv := newTestServer(t)
	biz := createBusiness(t, srv, "u1", "Bakery")

	resp := do(t, srv, http.MethodGet, "/businesses/"+biz.ID, "u2", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/businesses", "u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Business
	decodeBody(t, resp, &list)
	assert.Empty(t, list)
}
