package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/orders"
	"github.com/imrishuroy/esim-settlement/internal/payments"
	"github.com/imrishuroy/esim-settlement/internal/signature"
)

var gateway = gatewaycfg.Static{
	MerchantLogin: "esim-shop",
	SecretA:       "passwordA",
	SecretB:       "passwordB",
	Mode:          gatewaycfg.ModeTest,
}

type captureNotifier struct {
	mu   sync.Mutex
	paid []orders.Order
}

func (n *captureNotifier) OrderPaid(_ context.Context, o orders.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, o)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paid)
}

type brokenRepo struct{}

func (brokenRepo) Get(context.Context, string) (*orders.Order, error) {
	return nil, errors.New("table unavailable")
}

func (brokenRepo) ApplyTransition(context.Context, string, orders.Transition) (*orders.Order, error) {
	return nil, errors.New("table unavailable")
}

type fixture struct {
	router *gin.Engine
	store  *orders.MemoryStore
	notify *captureNotifier
}

func newFixture(t *testing.T, gw gatewaycfg.Provider) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := orders.NewMemoryStore()
	store.Put(orders.Order{
		OrderID:       "1042",
		Amount:        "500.00",
		Currency:      "RUB",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		CustomerEmail: "buyer@example.com",
		PackageID:     "eu-10gb",
		PlanName:      "Europe 10 GB",
		CreatedAt:     time.Now().UTC(),
	})
	notify := &captureNotifier{}
	log := slog.New(slog.DiscardHandler)

	cfg := HandlerConfig{
		Checkout:    store,
		Orders:      store,
		Reconciler:  orders.NewReconciler(store, notify, nil, log),
		Builder:     payments.NewBuilder(gw, ""),
		Verifier:    payments.NewVerifier(gw),
		Logger:      log,
		StoreDomain: "shop.example.com",
	}
	return &fixture{router: newRouter(cfg), store: store, notify: notify}
}

func newRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(Correlation())
	RegisterOrdersRoutes(r, cfg)
	RegisterPaymentRoutes(r, cfg)
	return r
}

func (f *fixture) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return *o
}

func sign(t *testing.T, secret string, fields ...string) string {
	t.Helper()
	s, err := signature.Sign(fields, secret)
	require.NoError(t, err)
	return s
}

func form(outSum, invID, sig string) url.Values {
	return url.Values{"OutSum": {outSum}, "InvId": {invID}, "SignatureValue": {sig}}
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postForm(path string, v url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const resultPath = "/api/payments/robokassa/result"
const successPath = "/api/payments/robokassa/success"

func TestResult_SettlesOrder(t *testing.T) {
	f := newFixture(t, gateway)
	v := form("500.00", "1042", sign(t, "passwordB", "500.00", "1042"))

	w := serve(f.router, postForm(resultPath, v))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK1042", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	o := f.order(t, "1042")
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.MethodRobokassa, o.PaymentMethod)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, 1, f.notify.count())

	// gateway retry
	w = serve(f.router, postForm(resultPath, v))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK1042", w.Body.String())
	assert.Equal(t, 1, f.notify.count())
}

func TestResult_QueryAndJSON(t *testing.T) {
	f := newFixture(t, gateway)
	sig := sign(t, "passwordB", "500.00", "1042")

	req := httptest.NewRequest(http.MethodGet, resultPath+"?"+form("500.00", "1042", sig).Encode(), nil)
	w := serve(f.router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK1042", w.Body.String())

	f = newFixture(t, gateway)
	w = serve(f.router, postJSON(resultPath, `{"OutSum":500.00,"InvId":1042,"SignatureValue":"`+sig+`"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK1042", w.Body.String())
	assert.Equal(t, orders.PaymentPaid, f.order(t, "1042").PaymentStatus)
}

func TestResult_BadSignature(t *testing.T) {
	f := newFixture(t, gateway)
	// signed for 500.00, amount tampered
	tampered := form("5.00", "1042", sign(t, "passwordB", "500.00", "1042"))

	w := serve(f.router, postForm(resultPath, tampered))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad sign", w.Body.String())

	o := f.order(t, "1042")
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Nil(t, o.PaidAt)
	assert.Zero(t, f.notify.count())

	// a browser-return signature is not valid here
	w = serve(f.router, postForm(resultPath, form("500.00", "1042", sign(t, "passwordA", "500.00", "1042"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(f.router, postForm(resultPath, url.Values{"OutSum": {"500.00"}, "InvId": {"1042"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad sign", w.Body.String())
}

func TestResult_FlippedSignatureCharacter(t *testing.T) {
	f := newFixture(t, gateway)
	sig := []byte(sign(t, "passwordB", "500.00", "1042"))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	w := serve(f.router, postForm(resultPath, form("500.00", "1042", string(sig))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad sign", w.Body.String())

	o := f.order(t, "1042")
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Nil(t, o.PaidAt)
	assert.Zero(t, f.notify.count())
}

func TestResult_UnknownOrderAcknowledged(t *testing.T) {
	f := newFixture(t, gateway)
	w := serve(f.router, postForm(resultPath, form("10.00", "9999", sign(t, "passwordB", "10.00", "9999"))))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK9999", w.Body.String())
}

func TestResult_InternalErrors(t *testing.T) {
	noSecretB := gateway
	noSecretB.SecretB = ""
	f := newFixture(t, noSecretB)

	w := serve(f.router, postForm(resultPath, form("500.00", "1042", sign(t, "passwordB", "500.00", "1042"))))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", w.Body.String())
	assert.Equal(t, orders.PaymentPending, f.order(t, "1042").PaymentStatus)

	log := slog.New(slog.DiscardHandler)
	cfg := HandlerConfig{
		Orders:     brokenRepo{},
		Reconciler: orders.NewReconciler(brokenRepo{}, nil, nil, log),
		Builder:    payments.NewBuilder(gateway, ""),
		Verifier:   payments.NewVerifier(gateway),
		Logger:     log,
	}
	w = serve(newRouter(cfg), postForm(resultPath, form("500.00", "1042", sign(t, "passwordB", "500.00", "1042"))))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", w.Body.String())
}

func TestSuccess_RedirectsAndSettles(t *testing.T) {
	for _, tc := range []struct {
		name string
		sig  func(t *testing.T) string
	}{
		{"merchant qualified", func(t *testing.T) string { return sign(t, "passwordA", "esim-shop", "500.00", "1042") }},
		{"unqualified", func(t *testing.T) string { return sign(t, "passwordA", "500.00", "1042") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, gateway)
			req := httptest.NewRequest(http.MethodGet, successPath+"?"+form("500.00", "1042", tc.sig(t)).Encode(), nil)

			w := serve(f.router, req)
			require.Equal(t, http.StatusFound, w.Code)

			loc, err := url.Parse(w.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "/payment/success", loc.Path)
			q := loc.Query()
			assert.Equal(t, "1042", q.Get("order"))
			assert.Equal(t, "500.00", q.Get("amount"))
			assert.Equal(t, "robokassa", q.Get("payment_method"))
			assert.Equal(t, "eu-10gb", q.Get("plan_id"))
			assert.Equal(t, "buyer@example.com", q.Get("email"))
			assert.Equal(t, "Europe 10 GB", q.Get("name"))

			o := f.order(t, "1042")
			assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
			assert.Equal(t, orders.StatusProcessing, o.Status)
			assert.Equal(t, 1, f.notify.count())
		})
	}
}

func TestSuccess_AfterResultDoesNotNotifyTwice(t *testing.T) {
	f := newFixture(t, gateway)
	w := serve(f.router, postForm(resultPath, form("500.00", "1042", sign(t, "passwordB", "500.00", "1042"))))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(f.router, postForm(successPath, form("500.00", "1042", sign(t, "passwordA", "esim-shop", "500.00", "1042"))))
	require.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/payment/success?"))
	assert.Equal(t, orders.PaymentPaid, f.order(t, "1042").PaymentStatus)
	assert.Equal(t, 1, f.notify.count())
}

func TestSuccess_BadSignature(t *testing.T) {
	f := newFixture(t, gateway)
	req := httptest.NewRequest(http.MethodGet, successPath+"?"+form("500.00", "1042", "deadbeef").Encode(), nil)

	w := serve(f.router, req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/payment/failed?reason=invalid_signature", w.Header().Get("Location"))

	o := f.order(t, "1042")
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
}

func TestSuccess_UnknownOrderStillSucceeds(t *testing.T) {
	f := newFixture(t, gateway)
	req := httptest.NewRequest(http.MethodGet, successPath+"?"+form("10.00", "9999", sign(t, "passwordA", "10.00", "9999")).Encode(), nil)

	w := serve(f.router, req)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/payment/success", loc.Path)
	assert.Equal(t, "9999", loc.Query().Get("order"))
	assert.Empty(t, loc.Query().Get("plan_id"))
}

func TestSuccess_ConfigurationMissing(t *testing.T) {
	noSecretA := gateway
	noSecretA.SecretA = ""
	f := newFixture(t, noSecretA)
	req := httptest.NewRequest(http.MethodGet, successPath+"?"+form("500.00", "1042", sign(t, "passwordA", "500.00", "1042")).Encode(), nil)

	w := serve(f.router, req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/payment/failed?reason=processing_error", w.Header().Get("Location"))
	assert.Equal(t, orders.PaymentPending, f.order(t, "1042").PaymentStatus)
}

func TestFail_RedirectsWithoutMutation(t *testing.T) {
	f := newFixture(t, gateway)
	req := httptest.NewRequest(http.MethodGet, "/api/payments/robokassa/fail?InvId=1042&OutSum=500.00", nil)

	w := serve(f.router, req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/payment/failed?order=1042&reason=payment_cancelled", w.Header().Get("Location"))
	assert.Equal(t, orders.PaymentPending, f.order(t, "1042").PaymentStatus)
}

func TestCorrelationHeader(t *testing.T) {
	f := newFixture(t, gateway)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/1042", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := serve(f.router, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = serve(f.router, httptest.NewRequest(http.MethodGet, "/api/orders/1042", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}
