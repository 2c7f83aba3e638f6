package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/signature"
)

const (
	// DefaultGatewayURL is the hosted payment page.
	DefaultGatewayURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

	SuccessPath = "/api/payments/robokassa/success"
	FailPath    = "/api/payments/robokassa/fail"

	culture          = "ru"
	encoding         = "utf-8"
	maxDescriptionLn = 100
)

// Request is the input of Builder.Build. Amount is in major currency units.
type Request struct {
	OrderID       string
	Amount        string
	Description   string
	CustomerEmail string
	Domain        string
}

// Builder assembles signed redirect URLs to the hosted payment page.
type Builder struct {
	cfg        gatewaycfg.Provider
	gatewayURL string
}

// NewBuilder returns a Builder. An empty gatewayURL selects DefaultGatewayURL.
func NewBuilder(cfg gatewaycfg.Provider, gatewayURL string) *Builder {
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	return &Builder{cfg: cfg, gatewayURL: gatewayURL}
}

// Build validates req and returns the redirect URL. It performs no network I/O.
func (b *Builder) Build(ctx context.Context, req Request) (string, error) {
	invID, err := ParseOrderID(req.OrderID)
	if err != nil {
		return "", err
	}
	outSum, err := FormatAmount(req.Amount)
	if err != nil {
		return "", err
	}
	base, err := baseURL(req.Domain)
	if err != nil {
		return "", err
	}

	cfg, err := b.cfg.Resolve(ctx, gatewaycfg.ChannelBrowserReturn)
	if err != nil {
		return "", err
	}

	sig, err := signature.Sign([]string{cfg.MerchantLogin, outSum, invID}, cfg.SecretA)
	if err != nil {
		return "", fmt.Errorf("sign payment request: %w", err)
	}

	q := url.Values{}
	q.Set("MerchantLogin", cfg.MerchantLogin)
	q.Set("OutSum", outSum)
	q.Set("InvId", invID)
	q.Set("Description", description(req.Description, invID))
	q.Set("SignatureValue", sig)
	q.Set("Culture", culture)
	q.Set("Encoding", encoding)
	if cfg.IsTest() {
		q.Set("IsTest", "1")
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		q.Set("Email", email)
	}
	q.Set("SuccessURL", base+SuccessPath)
	q.Set("FailURL", base+FailPath)

	return b.gatewayURL + "?" + q.Encode(), nil
}

// ParseOrderID returns the canonical decimal form of a positive integer id.
func ParseOrderID(s string) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderID, s)
	}
	return strconv.FormatInt(id, 10), nil
}

// FormatAmount parses a positive amount in major units with at most two
// decimal places and renders it with exactly two, e.g. "500" -> "500.00".
func FormatAmount(s string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() || !d.Equal(d.Round(2)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d.StringFixed(2), nil
}

func baseURL(domain string) (string, error) {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain == "" {
		return "", ErrMissingDomain
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingDomain, domain)
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), nil
}

func description(d, invID string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		d = "eSIM order #" + invID
	}
	if r := []rune(d); len(r) > maxDescriptionLn {
		d = string(r[:maxDescriptionLn])
	}
	return d
}
