package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imrishuroy/esim-settlement/internal/gatewaycfg"
	"github.com/imrishuroy/esim-settlement/internal/signature"
)

// Param is a gateway parameter. JSON bodies may carry it as a string or a
// number; a number keeps its literal text because that text is what was signed.
type Param string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Param) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*p = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Param(s)
	default:
		*p = Param(raw)
	}
	return nil
}

// Notification carries the payment facts the gateway sends on either channel.
type Notification struct {
	OutSum         Param `form:"OutSum" json:"OutSum" validate:"required"`
	InvID          Param `form:"InvId" json:"InvId" validate:"required"`
	SignatureValue Param `form:"SignatureValue" json:"SignatureValue" validate:"required"`
}

// OrderID returns the trimmed InvId.
func (n Notification) OrderID() string { return strings.TrimSpace(string(n.InvID)) }

// Amount returns the trimmed OutSum.
func (n Notification) Amount() string { return strings.TrimSpace(string(n.OutSum)) }

func (n Notification) sig() string { return strings.TrimSpace(string(n.SignatureValue)) }

// Variant names for the browser-return channel.
const (
	VariantMerchantQualified = "merchant-qualified"
	VariantUnqualified       = "unqualified"
)

// BrowserReturnVariants lists the canonical orderings the gateway has used for
// the browser-return signature, in the order they are tried.
func BrowserReturnVariants(merchantLogin, outSum, invID string) []signature.Variant {
	return []signature.Variant{
		{Name: VariantMerchantQualified, Fields: []string{merchantLogin, outSum, invID}},
		{Name: VariantUnqualified, Fields: []string{outSum, invID}},
	}
}

// Verifier checks callback signatures. Each channel resolves its own secret.
type Verifier struct {
	cfg gatewaycfg.Provider
}

// NewVerifier returns a Verifier.
func NewVerifier(cfg gatewaycfg.Provider) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyResult checks a server notification: [OutSum, InvId] under secret B.
func (v *Verifier) VerifyResult(ctx context.Context, n Notification) error {
	if err := n.check(); err != nil {
		return err
	}
	cfg, err := v.cfg.Resolve(ctx, gatewaycfg.ChannelServerNotification)
	if err != nil {
		return err
	}
	ok, err := signature.Verify([]string{n.Amount(), n.OrderID()}, cfg.SecretB, n.sig())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// VerifySuccess checks a browser return under secret A against every
// BrowserReturnVariants ordering and returns the one that matched.
func (v *Verifier) VerifySuccess(ctx context.Context, n Notification) (signature.Variant, error) {
	if err := n.check(); err != nil {
		return signature.Variant{}, err
	}
	cfg, err := v.cfg.Resolve(ctx, gatewaycfg.ChannelBrowserReturn)
	if err != nil {
		return signature.Variant{}, err
	}
	variant, ok, err := signature.VerifyAny(BrowserReturnVariants(cfg.MerchantLogin, n.Amount(), n.OrderID()), cfg.SecretA, n.sig())
	if err != nil {
		return signature.Variant{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if !ok {
		return signature.Variant{}, ErrBadSignature
	}
	return variant, nil
}

func (n Notification) check() error {
	if n.Amount() == "" || n.OrderID() == "" || n.sig() == "" {
		return ErrMalformedNotification
	}
	return nil
}
