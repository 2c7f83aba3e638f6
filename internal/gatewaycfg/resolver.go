package gatewaycfg

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Environment fallback keys.
const (
	EnvMerchantLogin = "ROBOKASSA_MERCHANT_LOGIN"
	EnvSecretA       = "ROBOKASSA_PASSWORD1"
	EnvSecretB       = "ROBOKASSA_PASSWORD2"
	EnvMode          = "ROBOKASSA_MODE"
)

// DefaultCacheTTL bounds how long a stored configuration is reused.
const DefaultCacheTTL = 30 * time.Second

// Resolver merges the stored configuration with environment fallback values.
// Stored values win field by field.
type Resolver struct {
	stored    Source
	ttl       time.Duration
	log       *slog.Logger
	lookupEnv func(string) string
	nowFunc   func() time.Time

	mu       sync.Mutex
	cached   *Config
	cachedAt time.Time
}

// NewResolver returns a Resolver. stored may be nil when only the environment is used.
func NewResolver(stored Source, ttl time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		stored:    stored,
		ttl:       ttl,
		log:       log,
		lookupEnv: os.Getenv,
		nowFunc:   time.Now,
	}
}

// Resolve returns the configuration for ch or ErrConfigurationUnavailable when
// the merchant login or the channel's secret is missing everywhere.
func (r *Resolver) Resolve(ctx context.Context, ch Channel) (Config, error) {
	stored := r.load(ctx)

	cfg := Config{
		MerchantLogin: strings.TrimSpace(r.lookupEnv(EnvMerchantLogin)),
		SecretA:       strings.TrimSpace(r.lookupEnv(EnvSecretA)),
		SecretB:       strings.TrimSpace(r.lookupEnv(EnvSecretB)),
		Mode:          r.lookupEnv(EnvMode),
	}
	if stored != nil {
		cfg.MerchantLogin = firstNonEmpty(stored.MerchantLogin, cfg.MerchantLogin)
		cfg.SecretA = firstNonEmpty(stored.SecretA, cfg.SecretA)
		cfg.SecretB = firstNonEmpty(stored.SecretB, cfg.SecretB)
		cfg.Mode = firstNonEmpty(stored.Mode, cfg.Mode)
	}
	return checkChannel(cfg, ch)
}

func (r *Resolver) load(ctx context.Context) *Config {
	if r.stored == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if r.cached != nil && now.Sub(r.cachedAt) < r.ttl {
		return r.cached
	}

	cfg, err := r.stored.Load(ctx)
	if err != nil {
		// keep serving the last good copy (or env alone) for one more ttl
		r.log.Warn("gateway config load failed, using last known values", "err", err)
		if r.cached == nil {
			r.cached = &Config{}
		}
		r.cachedAt = now
		return r.cached
	}
	if cfg == nil {
		cfg = &Config{}
	}
	r.cached = cfg
	r.cachedAt = now
	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
