package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/clock"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/domain/sale"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/storage/memory"
	"ledgercore/pkg/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store := memory.New()
	clk := clock.NewFixed(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))

	det, err := variance.NewDetector(store.Reports(), store, clk, variance.DefaultConfig())
	require.NoError(t, err)
	det.WithEscalator(store.Outbox())

	numbers := sequence.NewService(store.Periods(), store, clk, sequence.DefaultConfig())
	ledger := batch.NewService(store.Batches(), store, clk).WithAudit(store.AuditLog()).WithObserver(det)

	return NewRouter(RouterConfig{
		Logger:      logger.Nop(),
		Clock:       clk,
		Sequences:   numbers,
		Batches:     ledger,
		Sales:       sale.NewService(numbers, ledger, store, clk, sale.DefaultSeries),
		Expiry:      expiry.NewService(store.Batches(), store, clk, store.AuditLog()),
		Variance:    det,
		Idempotency: memory.NewIdempotencyStore(time.Hour),
		Store:       "memory",
	})
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func receive(t *testing.T, r *gin.Engine, product, number, expiry string, qty int64) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/batches", map[string]any{
		"productId":   product,
		"batchNumber": number,
		"expiryDate":  expiry,
		"quantity":    qty,
		"unitCost":    "2.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health/ready", nil).Code)

	info := decode(t, do(t, r, http.MethodGet, "/health/info", nil))
	assert.Equal(t, "ledgercore", info["app"])
	assert.Equal(t, "memory", info["store"])
}

func TestSequenceRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/sequences/INV/current", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PERIOD_NOT_FOUND", decode(t, w)["code"])

	w = do(t, r, http.MethodPost, "/api/v1/sequences/INV/periods", map[string]any{"periodStart": "2025-01-01", "base": 41})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/v1/sequences/INV/periods", map[string]any{"periodStart": "2025-01-01"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/sequences/INV/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INV-2025-00042", decode(t, w)["nextNumber"])

	w = do(t, r, http.MethodPut, "/api/v1/sequences/INV/last-issued", map[string]any{"periodStart": "2025-01-01", "lastIssued": 10})
	assert.Equal(t, http.StatusConflict, w.Code, "counter must not move backwards")

	w = do(t, r, http.MethodPut, "/api/v1/sequences/INV/last-issued", map[string]any{"periodStart": "2025-01-01", "lastIssued": 99})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode(t, do(t, r, http.MethodGet, "/api/v1/sequences/INV/periods", nil))
	assert.EqualValues(t, 1, list["count"])

	w = do(t, r, http.MethodPost, "/api/v1/sequences/INV/periods", map[string]any{"periodStart": "01/02/2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaleFlow(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		do(t, r, http.MethodPost, "/api/v1/sequences/INV/periods", map[string]any{"periodStart": "2025-01-01"}).Code)

	first := receive(t, r, "AMOX", "A1", "2025-02-01", 3)
	receive(t, r, "AMOX", "A2", "2025-06-01", 10)

	stock := decode(t, do(t, r, http.MethodGet, "/api/v1/products/AMOX/stock", nil))
	assert.EqualValues(t, 13, stock["quantity"])

	w := do(t, r, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines": []map[string]any{{"productId": "AMOX", "quantity": 5}},
	}, "X-Actor", "till-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	receipt := decode(t, w)
	number := receipt["number"].(map[string]any)
	assert.EqualValues(t, 1, number["value"])
	line := receipt["lines"].([]any)[0].(map[string]any)
	allocations := line["allocations"].([]any)
	require.Len(t, allocations, 2)
	assert.Equal(t, first, allocations[0].(map[string]any)["batchId"])

	stock = decode(t, do(t, r, http.MethodGet, "/api/v1/products/AMOX/stock", nil))
	assert.EqualValues(t, 8, stock["quantity"])

	w = do(t, r, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines": []map[string]any{{"productId": "AMOX", "quantity": 50}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode(t, w)["code"])

	w = do(t, r, http.MethodPost, "/api/v1/returns", map[string]any{"batchId": first, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["quantityRemaining"])

	w = do(t, r, http.MethodPost, "/api/v1/returns", map[string]any{"batchId": first, "quantity": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "OVER_RETURN", decode(t, w)["code"])

	history := decode(t, do(t, r, http.MethodGet, "/api/v1/batches/"+first+"/history", nil))
	items := history["items"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "till-1", items[1].(map[string]any)["actor"])
}

func TestBatchRoutes(t *testing.T) {
	r := newTestRouter(t)
	id := receive(t, r, "PARA", "P1", "2025-09-01", 200)

	w := do(t, r, http.MethodPost, "/api/v1/batches/"+id+"/adjust", map[string]any{"delta": -150, "note": "recount"}, "X-Actor", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)
	assert.Equal(t, "alice", result["event"].(map[string]any)["actor"])
	alerts := result["alerts"].([]any)
	require.NotEmpty(t, alerts)
	assert.Equal(t, "LARGE_ADJUSTMENT", alerts[0].(map[string]any)["type"])

	got := decode(t, do(t, r, http.MethodGet, "/api/v1/batches/"+id, nil))
	assert.EqualValues(t, 50, got["quantityRemaining"])

	w = do(t, r, http.MethodPost, "/api/v1/batches/"+id+"/write-off", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 0, decode(t, w)["batch"].(map[string]any)["quantityRemaining"])

	w = do(t, r, http.MethodPost, "/api/v1/batches/"+id+"/retire", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode(t, do(t, r, http.MethodGet, "/api/v1/batches?productId=PARA", nil))
	assert.EqualValues(t, 0, list["count"])
	list = decode(t, do(t, r, http.MethodGet, "/api/v1/batches?productId=PARA&includeInactive=true", nil))
	assert.EqualValues(t, 1, list["count"])

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/batches?status=SOLD", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/batches/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, r, http.MethodGet, "/api/v1/batches/0195b2f4-7c1e-7000-8000-000000000000", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, r, http.MethodPost, "/api/v1/batches", map[string]any{"productId": "PARA"}).Code)
}

func TestJobsAndReports(t *testing.T) {
	r := newTestRouter(t)
	receive(t, r, "AMOX", "OLD", "2025-01-05", 4)
	receive(t, r, "AMOX", "SOON", "2025-01-20", 6)

	w := do(t, r, http.MethodPost, "/api/v1/jobs/expiry/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, r, http.MethodGet, "/api/v1/reports/near-expiry?thresholds=30", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bucket := decode(t, w)["items"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 1, bucket["batchCount"])
	assert.EqualValues(t, 6, bucket["totalQuantity"])

	assert.Equal(t, http.StatusBadRequest,
		do(t, r, http.MethodGet, "/api/v1/reports/near-expiry?thresholds=30,abc", nil).Code)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/reports/variance/2025-01-05", nil).Code)

	w = do(t, r, http.MethodPost, "/api/v1/jobs/variance-summary/run?date=2025-01-05", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/reports/variance/2025-01-05", nil).Code)
	list := decode(t, do(t, r, http.MethodGet, "/api/v1/reports/variance", nil))
	assert.EqualValues(t, 1, list["count"])

	assert.Equal(t, http.StatusBadRequest,
		do(t, r, http.MethodGet, "/api/v1/reports/variance?from=2025-02-01&to=2025-01-01", nil).Code)
}

func TestIdempotentSale(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		do(t, r, http.MethodPost, "/api/v1/sequences/INV/periods", map[string]any{"periodStart": "2025-01-01"}).Code)
	receive(t, r, "AMOX", "A1", "2025-06-01", 10)

	basket := map[string]any{"lines": []map[string]any{{"productId": "AMOX", "quantity": 4}}}
	first := do(t, r, http.MethodPost, "/api/v1/sales", basket, "X-Idempotency-Key", "till-1-0001")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	again := do(t, r, http.MethodPost, "/api/v1/sales", basket, "X-Idempotency-Key", "till-1-0001")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())

	stock := decode(t, do(t, r, http.MethodGet, "/api/v1/products/AMOX/stock", nil))
	assert.EqualValues(t, 6, stock["quantity"], "replayed sale must not allocate twice")

	other := map[string]any{"lines": []map[string]any{{"productId": "AMOX", "quantity": 1}}}
	w := do(t, r, http.MethodPost, "/api/v1/sales", other, "X-Idempotency-Key", "till-1-0001")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", decode(t, w)["code"])

	// A failed request does not pin its key.
	short := map[string]any{"lines": []map[string]any{{"productId": "AMOX", "quantity": 50}}}
	w = do(t, r, http.MethodPost, "/api/v1/sales", short, "X-Idempotency-Key", "till-1-0002")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	receive(t, r, "AMOX", "A2", "2025-07-01", 60)
	w = do(t, r, http.MethodPost, "/api/v1/sales", short, "X-Idempotency-Key", "till-1-0002")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
