package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/esim-settlement/internal/orders"
)

const createBody = `{"package_id":"asia-5gb","plan_name":"Asia 5 GB","customer_email":"a@example.com","amount":"300"}`

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t, gateway)

	req := postJSON("/api/orders", createBody)
	req.Header.Set("Idempotency-Key", "key-1")
	w := serve(f.router, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "1043", created.OrderID)
	assert.Equal(t, "300.00", created.Amount)
	assert.Equal(t, "RUB", created.Currency)
	assert.Equal(t, orders.StatusPending, created.Status)
	assert.Equal(t, orders.PaymentPending, created.PaymentStatus)
	assert.Equal(t, "/api/orders/1043", w.Header().Get("Location"))

	req = postJSON("/api/orders", createBody)
	req.Header.Set("Idempotency-Key", "key-1")
	w = serve(f.router, req)
	require.Equal(t, http.StatusOK, w.Code)

	var replayed orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
	assert.Equal(t, created.OrderID, replayed.OrderID)
}

func TestCreateOrder_Rejects(t *testing.T) {
	f := newFixture(t, gateway)

	w := serve(f.router, postJSON("/api/orders", createBody))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_idempotency_key")

	req := postJSON("/api/orders", `{"package_id":"asia-5gb","plan_name":"Asia","customer_email":"nope","amount":"-1"}`)
	req.Header.Set("Idempotency-Key", "key-2")
	w = serve(f.router, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, gateway)

	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/orders/1042", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order_id":"1042"`)

	w = serve(f.router, httptest.NewRequest(http.MethodGet, "/api/orders/77", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(f.router, httptest.NewRequest(http.MethodGet, "/api/orders/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
