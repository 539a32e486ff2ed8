package lark

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyMargin keeps a token from being used in its final seconds
	DefaultSafetyMargin = 60 * time.Second

	defaultRefreshTimeout = 15 * time.Second
	tokenFlightKey        = "service-token"
)

// Exchanger trades the application credentials for a fresh service token
type Exchanger func(ctx context.Context) (*ServiceToken, error)

// TokenStore shares a service token between processes.
// Load returns nil, nil when nothing usable is stored.
type TokenStore interface {
	Load(ctx context.Context) (*ServiceToken, error)
	Save(ctx context.Context, token *ServiceToken) error
	Clear(ctx context.Context) error
}

// TokenCache holds the current service token and refreshes it single-flight
type TokenCache struct {
	exchange       Exchanger
	store          TokenStore
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *logrus.Logger
	metrics        *observability.Metrics

	mu    sync.RWMutex
	token *ServiceToken
	group singleflight.Group
}

// TokenCacheOption configures a TokenCache
type TokenCacheOption func(*TokenCache)

// WithSafetyMargin overrides DefaultSafetyMargin
func WithSafetyMargin(margin time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithTokenStore shares tokens through store
func WithTokenStore(store TokenStore) TokenCacheOption {
	return func(c *TokenCache) { c.store = store }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger *logrus.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenMetrics records refreshes into metrics
func WithTokenMetrics(metrics *observability.Metrics) TokenCacheOption {
	return func(c *TokenCache) { c.metrics = metrics }
}

// NewTokenCache creates a token cache backed by exchange
func NewTokenCache(exchange Exchanger, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		exchange:       exchange,
		margin:         DefaultSafetyMargin,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
		logger:         logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a token that is valid for at least the safety margin.
// Concurrent callers during a refresh share one credential exchange.
func (c *TokenCache) Get(ctx context.Context) (*ServiceToken, error) {
	if token := c.cached(); token != nil {
		return token, nil
	}

	ch := c.group.DoChan(tokenFlightKey, func() (interface{}, error) {
		if token := c.cached(); token != nil {
			return token, nil
		}
		// The exchange outlives the caller that started it; other waiters depend on it.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ServiceToken), nil
	}
}

// Invalidate drops the cached token so the next Get performs a refresh
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to clear shared service token")
		}
	}
}

func (c *TokenCache) cached() *ServiceToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.ValidAt(c.now(), c.margin) {
		return c.token
	}
	return nil
}

func (c *TokenCache) set(token *ServiceToken) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *TokenCache) refresh(ctx context.Context) (*ServiceToken, error) {
	if c.store != nil {
		shared, err := c.store.Load(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to load shared service token")
		} else if shared.ValidAt(c.now(), c.margin) {
			c.set(shared)
			c.logger.Debug("Using shared service token")
			return shared, nil
		}
	}

	start := time.Now()
	token, err := c.exchange(ctx)
	c.metrics.RecordTokenRefresh(err, time.Since(start))
	if err != nil {
		c.logger.WithError(err).Error("Service token exchange failed")
		return nil, err
	}
	if token == nil || token.Value == "" {
		return nil, ErrEmptyToken
	}

	c.set(token)
	c.logger.WithField("expires_at", token.ExpiresAt).Info("Refreshed lark service token")

	if c.store != nil {
		if err := c.store.Save(ctx, token); err != nil {
			c.logger.WithError(err).Warn("Failed to save shared service token")
		}
	}

	return token, nil
}
