package payments

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/signature"
)

var testCfg = gatewaycfg.Static{
	MerchantLogin: "esim-shop",
	SecretA:       "passwordA",
	SecretB:       "passwordB",
	Mode:          gatewaycfg.ModeTest,
}

func validRequest() Request {
	return Request{
		OrderID:       "1042",
		Amount:        "500",
		Description:   "Europe 10 GB",
		CustomerEmail: "buyer@example.com",
		Domain:        "shop.example.com",
	}
}

func TestBuild_URL(t *testing.T) {
	b := NewBuilder(testCfg, "")
	raw, err := b.Build(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, DefaultGatewayURL+"?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "esim-shop", q.Get("MerchantLogin"))
	assert.Equal(t, "500.00", q.Get("OutSum"))
	assert.Equal(t, "1042", q.Get("InvId"))
	assert.Equal(t, "Europe 10 GB", q.Get("Description"))
	assert.Equal(t, "ru", q.Get("Culture"))
	assert.Equal(t, "utf-8", q.Get("Encoding"))
	assert.Equal(t, "1", q.Get("IsTest"))
	assert.Equal(t, "buyer@example.com", q.Get("Email"))
	assert.Equal(t, "https://shop.example.com"+SuccessPath, q.Get("SuccessURL"))
	assert.Equal(t, "https://shop.example.com"+FailPath, q.Get("FailURL"))

	want, err := signature.Sign([]string{"esim-shop", "500.00", "1042"}, "passwordA")
	require.NoError(t, err)
	assert.Equal(t, want, q.Get("SignatureValue"))
}

func TestBuild_LiveModeAndOptionalFields(t *testing.T) {
	live := testCfg
	live.Mode = gatewaycfg.ModeLive
	req := validRequest()
	req.CustomerEmail = ""
	req.Description = ""
	req.Domain = "http://localhost:8080/"

	raw, err := NewBuilder(live, "https://gateway.test/pay").Build(context.Background(), req)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "gateway.test", u.Host)
	assert.Empty(t, q.Get("IsTest"))
	_, hasEmail := q["Email"]
	assert.False(t, hasEmail)
	assert.Equal(t, "eSIM order #1042", q.Get("Description"))
	assert.Equal(t, "http://localhost:8080"+SuccessPath, q.Get("SuccessURL"))
}

func TestBuild_ValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"negative id", func(r *Request) { r.OrderID = "-5" }, ErrInvalidOrderID},
		{"zero id", func(r *Request) { r.OrderID = "0" }, ErrInvalidOrderID},
		{"non numeric id", func(r *Request) { r.OrderID = "abc" }, ErrInvalidOrderID},
		{"zero amount", func(r *Request) { r.Amount = "0" }, ErrInvalidAmount},
		{"negative amount", func(r *Request) { r.Amount = "-1.00" }, ErrInvalidAmount},
		{"garbage amount", func(r *Request) { r.Amount = "ten" }, ErrInvalidAmount},
		{"sub-kopeck amount", func(r *Request) { r.Amount = "10.005" }, ErrInvalidAmount},
		{"blank domain", func(r *Request) { r.Domain = "  " }, ErrMissingDomain},
	}
	b := NewBuilder(testCfg, "")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := b.Build(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBuild_ConfigurationUnavailable(t *testing.T) {
	noSecretA := testCfg
	noSecretA.SecretA = ""
	_, err := NewBuilder(noSecretA, "").Build(context.Background(), validRequest())
	assert.ErrorIs(t, err, gatewaycfg.ErrConfigurationUnavailable)
}

func TestFormatAmount(t *testing.T) {
	for in, want := range map[string]string{
		"500":    "500.00",
		"500.0":  "500.00",
		" 1.5 ":  "1.50",
		"499.99": "499.99",
	} {
		got, err := FormatAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
