package gatewaycfg

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Modes
const (
	ModeTest = "test"
	ModeLive = "live"
)

// Channel names the callback channel (and so the secret) a caller needs.
type Channel int

const (
	// ChannelBrowserReturn covers the shopper-facing redirect and the outbound
	// payment request. Signed with secret A.
	ChannelBrowserReturn Channel = iota
	// ChannelServerNotification is the gateway's direct result call. Signed with secret B.
	ChannelServerNotification
)

func (c Channel) String() string {
	switch c {
	case ChannelBrowserReturn:
		return "browser_return"
	case ChannelServerNotification:
		return "server_notification"
	default:
		return "unknown"
	}
}

// ErrConfigurationUnavailable means neither the stored configuration nor the
// environment supplies a value the channel needs.
var ErrConfigurationUnavailable = errors.New("payment gateway configuration unavailable")

// Config is the resolved gateway configuration.
type Config struct {
	MerchantLogin string `dynamodbav:"merchant_login,omitempty"`
	SecretA       string `dynamodbav:"password1,omitempty"`
	SecretB       string `dynamodbav:"password2,omitempty"`
	Mode          string `dynamodbav:"mode,omitempty"`
}

// IsTest reports whether payments run against the gateway's test mode.
func (c Config) IsTest() bool {
	return c.Mode != ModeLive
}

// Secret returns the shared secret used by channel.
func (c Config) Secret(ch Channel) string {
	if ch == ChannelServerNotification {
		return c.SecretB
	}
	return c.SecretA
}

// Provider resolves the configuration a channel needs.
type Provider interface {
	Resolve(ctx context.Context, ch Channel) (Config, error)
}

// Source loads the stored configuration. It returns (nil, nil) when nothing is stored.
type Source interface {
	Load(ctx context.Context) (*Config, error)
}

func normalizeMode(m string) string {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case ModeLive:
		return ModeLive
	default:
		return ModeTest
	}
}

// Static is a fixed configuration, used when the values come from flags or tests.
type Static Config

// Resolve implements Provider.
func (s Static) Resolve(_ context.Context, ch Channel) (Config, error) {
	return checkChannel(Config(s), ch)
}

func checkChannel(cfg Config, ch Channel) (Config, error) {
	cfg.MerchantLogin = strings.TrimSpace(cfg.MerchantLogin)
	cfg.Mode = normalizeMode(cfg.Mode)
	if cfg.MerchantLogin == "" {
		return Config{}, fmt.Errorf("%w: merchant login not set", ErrConfigurationUnavailable)
	}
	if cfg.Secret(ch) == "" {
		return Config{}, fmt.Errorf("%w: %s secret not set", ErrConfigurationUnavailable, ch)
	}
	return cfg, nil
}
