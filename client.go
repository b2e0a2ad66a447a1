package twitter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/pool"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// Client is the top-level Twitter timeline client.
type Client struct {
	client *stealth.BrowserClient
	pool   *pool.Pool[*Account]
	cfg    ClientConfig

	// get performs one GET for a GraphQL operation and returns the raw body.
	get func(ctx context.Context, endpoint, url string) ([]byte, error)

	// post performs one authenticated mutation.
	post func(ctx context.Context, endpoint string, req request) ([]byte, error)

	mu                sync.Mutex
	accounts          []*Account
	guestToken        string
	guestLimitedUntil time.Time
}

// NewClient creates a fully-wired Twitter client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.defaults()

	for _, acc := range cfg.Accounts {
		acc.rateLimiter = ratelimit.NewLimiter(cfg.RateLimit)
		acc.HealthTracker = pool.DefaultHealthTracker()
	}

	opts := []stealth.ClientOption{
		stealth.WithHeaderOrder(twitterHeaderOrder),
	}
	if cfg.DefaultProxy != "" {
		opts = append(opts, stealth.WithProxy(cfg.DefaultProxy))
	}
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client: %w", err)
	}

	poolCfg := pool.Config{
		AlertHook: func(topic string, payload any) {
			slog.Warn("pool alert", slog.String("topic", topic), slog.Any("payload", payload))
		},
		ProxyBackoff: pool.BackoffConfig{
			InitialWait: cfg.ProxyBackoffInitial,
			MaxWait:     cfg.ProxyBackoffMax,
			Multiplier:  2.0,
			JitterPct:   0.3,
		},
	}

	c := &Client{
		client:   bc,
		pool:     pool.New(cfg.Accounts, poolCfg),
		cfg:      cfg,
		accounts: cfg.Accounts,
	}
	c.get = c.doGET
	c.post = c.postWithPool

	for _, acc := range cfg.Accounts {
		if acc.Proxy != "" {
			accClient, err := stealth.NewClient(
				stealth.WithProxy(acc.Proxy),
				stealth.WithProfile(acc.Profile.TLSProfile),
				stealth.WithHeaderOrder(twitterHeaderOrder),
			)
			if err != nil {
				slog.Warn("per-account client failed", slog.String("user", acc.Username), slog.Any("error", err))
			} else {
				acc.client = accClient
			}
		}

		if cfg.SkipLogin {
			continue
		}
		if err := c.loadOrLogin(acc, c.clientForAccount(acc)); err != nil {
			slog.Warn("account login failed", slog.String("user", acc.Username), slog.Any("error", err))
			acc.SetActive(false)
		}
	}

	return c, nil
}

// clientForAccount returns the per-account client if available, otherwise the shared client.
func (c *Client) clientForAccount(acc *Account) *stealth.BrowserClient {
	if acc.client != nil {
		return acc.client
	}
	return c.client
}

// doRequest executes one request with the Twitter header order.
func (c *Client) doRequest(bc *stealth.BrowserClient, method, url string, headers map[string]string, body io.Reader) ([]byte, map[string]string, int, error) {
	return bc.DoWithHeaderOrder(method, url, headers, body, twitterHeaderOrder)
}

// postWithPool runs req with the next authenticated account of the pool.
func (c *Client) postWithPool(ctx context.Context, endpoint string, req request) ([]byte, error) {
	acc, err := c.pool.NextWithWait(ctx, func(a *Account) bool {
		return a.Authenticated() && a.usable(endpoint)
	}, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return c.doPOST(ctx, acc, endpoint, req)
}

// Pool returns the underlying account pool.
func (c *Client) Pool() *pool.Pool[*Account] {
	return c.pool
}

// IsLoggedIn reports whether at least one active account holds a session.
func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	accounts := c.accounts
	c.mu.Unlock()
	for _, acc := range accounts {
		if acc.IsActive() && acc.Authenticated() {
			return true
		}
	}
	return false
}

// recordAPICall calls the metrics hook if configured.
func (c *Client) recordAPICall(endpoint string, success, rateLimited bool) {
	if c.cfg.MetricsHook != nil {
		c.cfg.MetricsHook(endpoint, success, rateLimited)
	}
}

// setGuestToken stores a fresh guest token.
func (c *Client) setGuestToken(token string) {
	c.mu.Lock()
	c.guestToken = token
	c.guestLimitedUntil = time.Time{}
	c.mu.Unlock()
}

// markGuestTokenRateLimited marks the guest token as rate-limited.
func (c *Client) markGuestTokenRateLimited(until time.Time) {
	c.mu.Lock()
	c.guestLimitedUntil = until
	c.mu.Unlock()
}

// getGuestTokenCached returns the current guest token and whether it is usable.
func (c *Client) getGuestTokenCached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guestToken == "" || time.Now().Before(c.guestLimitedUntil) {
		return "", false
	}
	return c.guestToken, true
}
