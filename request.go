package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
)

const maxRetries = 3

// request is one outgoing API call, replayable across attempts.
type request struct {
	method      string
	url         string
	contentType string
	payload     []byte
}

// attemptResult is what one attempt with one account produced.
type attemptResult struct {
	body  []byte
	retry bool // another attempt may succeed
	err   error
}

func done(body []byte) attemptResult { return attemptResult{body: body} }

func fatal(err error) attemptResult { return attemptResult{err: err} }

func retryable(err error) attemptResult { return attemptResult{retry: true, err: err} }

func retryablef(format string, a ...any) attemptResult {
	return retryable(fmt.Errorf(format, a...))
}

func (r attemptResult) succeeded() bool { return r.err == nil }

// doGET executes a GET request with multi-account retry, ct0 rotation, relogin,
// and guest-token fallback.
func (c *Client) doGET(ctx context.Context, endpoint, url string) ([]byte, error) {
	// Anti-fingerprint jitter
	if err := stealth.DefaultJitter.Sleep(ctx); err != nil {
		return nil, err
	}

	req := request{method: "GET", url: url}
	authOnly := requiresAuth(endpoint)

	var lastErr error
	for attempt := range maxRetries {
		if err := backoffWait(ctx, attempt); err != nil {
			return nil, err
		}

		filter := func(a *Account) bool { return a.usable(endpoint) }
		var acc *Account
		var accErr error
		if authOnly {
			acc, accErr = c.pool.NextWithWait(ctx, filter, 5*time.Minute)
		} else {
			acc, accErr = c.pool.Next(filter)
		}
		if accErr != nil {
			lastErr = accErr
			break
		}

		res := c.attempt(acc, endpoint, req)
		if res.succeeded() {
			return res.body, nil
		}
		if !res.retry {
			return nil, res.err
		}
		lastErr = res.err
	}

	if authOnly {
		if lastErr != nil {
			return nil, fmt.Errorf("pool exhausted for %s (requires auth): %w", endpoint, lastErr)
		}
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNotLoggedIn)
	}
	return c.guestGET(ctx, endpoint, url, lastErr)
}

// doPOST executes a mutation with a specific account.
// Unlike doGET, it does not rotate accounts from the pool.
func (c *Client) doPOST(ctx context.Context, acc *Account, endpoint string, req request) ([]byte, error) {
	if err := stealth.DefaultJitter.Sleep(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := range maxRetries {
		if err := backoffWait(ctx, attempt); err != nil {
			return nil, err
		}
		res := c.attempt(acc, endpoint, req)
		if res.succeeded() {
			return res.body, nil
		}
		if !res.retry {
			return nil, res.err
		}
		lastErr = res.err
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", endpoint, maxRetries, lastErr)
}

func backoffWait(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	select {
	case <-time.After(stealth.DefaultBackoff.Duration(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send performs req once with the account's current credentials.
func (c *Client) send(acc *Account, req request) ([]byte, map[string]string, int, string, error) {
	authTok, ct0, ua := acc.Credentials()
	headers := twitterHeaders(authTok, ct0, ua)
	if req.contentType != "" {
		headers["content-type"] = req.contentType
	}
	var body io.Reader
	if req.payload != nil {
		body = bytes.NewReader(req.payload)
	}
	respBody, respHdrs, status, err := c.doRequest(c.clientForAccount(acc), req.method, req.url, headers, body)
	return respBody, respHdrs, status, ct0, err
}

func isSuccessStatus(status int) bool {
	return status == 200 || status == 201
}

// attempt runs req with acc and interprets the response, updating account health.
func (c *Client) attempt(acc *Account, endpoint string, req request) attemptResult {
	// Proactive ct0 rotation
	if acc.CT0Age() > ct0MaxAge {
		_, oldCT0, _ := acc.Credentials()
		acc.RotateCT0()
		slog.Info("ct0 rotated (proactive)", slog.String("user", acc.Username), slog.String("old_prefix", oldCT0[:min(8, len(oldCT0))]))
		c.persistSession(acc)
	}

	body, respHdrs, status, sentCT0, err := c.send(acc, req)
	if err != nil {
		if acc.Proxy != "" && isProxyError(err) {
			c.markProxyDown(acc)
		} else {
			acc.RecordFailure()
		}
		return retryable(err)
	}

	// Reset proxy consecutive failures on any HTTP response
	acc.mu.Lock()
	acc.proxyConsecFails = 0
	acc.mu.Unlock()

	switch {
	case status == 429:
		c.recordAPICall(endpoint, false, true)
		acc.MarkEndpointRateLimited(endpoint, parseRateLimitReset(respHdrs["x-rate-limit-reset"]))
		return retryablef("429 rate limited")

	case status == 401 || status == 403:
		c.recordAPICall(endpoint, false, false)
		class := classifyError(body)
		if class == errNone {
			acc.RecordFailure()
			return retryablef("%s HTTP %d: %s", endpoint, status, truncateBytes(body, 200))
		}
		return c.recoverAccount(acc, endpoint, req, class, body)

	case !isSuccessStatus(status):
		c.recordAPICall(endpoint, false, false)
		slog.Warn("non-2xx response", slog.String("endpoint", endpoint), slog.Int("status", status), slog.String("body", truncateBytes(body, 500)))
		if shouldDeactivate := acc.RecordFailure(); shouldDeactivate {
			total, failed, consec := acc.Stats()
			slog.Warn("account unhealthy, deactivating",
				slog.String("user", acc.Username),
				slog.Int("total", total),
				slog.Int("failed", failed),
				slog.Int("consec", consec))
			c.pool.DeactivateItem(acc)
		}
		return fatal(fmt.Errorf("%s HTTP %d: %s", endpoint, status, truncateBytes(body, 200)))
	}

	class := classifyError(body)
	if class == errNone || (class == errInternal && hasResponseData(body)) {
		if class == errInternal {
			slog.Debug("error 131 with usable data, treating as success", slog.String("endpoint", endpoint))
		}
		c.adoptCT0(acc, respHdrs, sentCT0)
		c.recordAPICall(endpoint, true, false)
		acc.RecordSuccess()
		return done(body)
	}
	c.recordAPICall(endpoint, false, false)
	return c.recoverAccount(acc, endpoint, req, class, body)
}

// recoverAccount reacts to an account-level error class: it either repairs the
// session and replays req once, or takes the account out of rotation.
func (c *Client) recoverAccount(acc *Account, endpoint string, req request, class errorClass, body []byte) attemptResult {
	switch class {
	case errCSRF:
		slog.Warn("CSRF error 353, rotating ct0", slog.String("user", acc.Username))
		acc.RotateCT0()
		c.persistSession(acc)
		if res := c.replay(acc, endpoint, req); res.succeeded() {
			return res
		}
		acc.RecordFailure()
		return retryablef("CSRF retry failed")

	case errAuthExpired:
		slog.Warn("auth expired (code 32), attempting relogin", slog.String("user", acc.Username))
		if err := c.relogin(acc); err != nil {
			slog.Warn("relogin failed, soft-deactivating", slog.String("user", acc.Username), slog.Any("error", err))
			c.pool.SoftDeactivate(acc, c.cfg.AuthCooldown)
			return retryable(err)
		}
		if res := c.replay(acc, endpoint, req); res.succeeded() {
			return res
		}
		c.pool.SoftDeactivate(acc, c.cfg.AuthCooldown)
		return retryablef("post-relogin request failed")

	case errInternal:
		slog.Warn("error 131 without data, retrying", slog.String("user", acc.Username), slog.String("endpoint", endpoint))
		return retryablef("Twitter internal error (131)")

	case errBanned:
		slog.Warn("account banned (code 88)", slog.String("user", acc.Username))
		c.pool.SoftDeactivate(acc, c.cfg.BanCooldown)
		return retryablef("account banned")

	case errSuspended:
		slog.Warn("account suspended (code 64), permanently deactivating", slog.String("user", acc.Username))
		c.pool.DeactivateItem(acc)
		return retryablef("account suspended")

	case errLocked:
		slog.Warn("account locked (code 326, captcha needed)", slog.String("user", acc.Username))
		c.pool.SoftDeactivate(acc, c.cfg.BanCooldown)
		return retryablef("account locked")

	default: // errBlocked, errNotAuthorized
		slog.Warn("account error", slog.String("user", acc.Username), slog.Int("class", int(class)), slog.String("body", truncateBytes(body, 200)))
		c.pool.SoftDeactivate(acc, c.cfg.AuthCooldown)
		return retryablef("account error class %d", class)
	}
}

// replay sends req once more after a session repair.
func (c *Client) replay(acc *Account, endpoint string, req request) attemptResult {
	body, respHdrs, status, sentCT0, err := c.send(acc, req)
	if err != nil {
		return retryable(err)
	}
	if !isSuccessStatus(status) || classifyError(body) != errNone {
		return retryablef("%s replay HTTP %d", endpoint, status)
	}
	c.adoptCT0(acc, respHdrs, sentCT0)
	c.recordAPICall(endpoint, true, false)
	acc.RecordSuccess()
	return done(body)
}

// adoptCT0 stores a ct0 issued by the server when it differs from the one sent.
func (c *Client) adoptCT0(acc *Account, respHdrs map[string]string, sent string) {
	if newCT0 := extractCT0FromHeaders(respHdrs); newCT0 != "" && newCT0 != sent {
		acc.SetCT0(newCT0)
		c.persistSession(acc)
	}
}

// persistSession writes the account's current cookies to disk.
func (c *Client) persistSession(acc *Account) {
	authTok, ct0, _ := acc.Credentials()
	if err := saveSession(c.cfg.SessionDir, acc.Username, authTok, ct0); err != nil {
		slog.Debug("session save failed", slog.String("user", acc.Username), slog.Any("error", err))
	}
}

// guestGET serves an unauthenticated endpoint with a guest token after the pool failed.
func (c *Client) guestGET(ctx context.Context, endpoint, url string, poolErr error) ([]byte, error) {
	gt, ok := c.getGuestTokenCached()
	if !ok {
		token, err := c.acquireGuestToken(ctx, c.client)
		if err != nil {
			if poolErr != nil {
				return nil, fmt.Errorf("pool exhausted for %s: %w", endpoint, errors.Join(poolErr, err))
			}
			return nil, fmt.Errorf("guest token unavailable for %s: %w", endpoint, err)
		}
		c.setGuestToken(token)
		gt = token
		slog.Info("guest token acquired as fallback", slog.String("endpoint", endpoint))
	}

	body, respHdrs, status, err := c.doRequest(c.client, "GET", url, guestHeaders(gt), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == 429:
		c.recordAPICall(endpoint, false, true)
		c.markGuestTokenRateLimited(parseRateLimitReset(respHdrs["x-rate-limit-reset"]))
		return nil, fmt.Errorf("guest token rate-limited for %s", endpoint)

	case status == 401 || status == 403:
		slog.Warn("guest token expired, reacquiring", slog.String("endpoint", endpoint), slog.Int("status", status))
		c.setGuestToken("")
		newGT, gtErr := c.acquireGuestToken(ctx, c.client)
		if gtErr != nil {
			c.recordAPICall(endpoint, false, false)
			return nil, fmt.Errorf("guest token reacquisition failed for %s: %w", endpoint, gtErr)
		}
		c.setGuestToken(newGT)
		body, _, status, err = c.doRequest(c.client, "GET", url, guestHeaders(newGT), nil)
		if err != nil {
			return nil, err
		}
		if status != 200 {
			c.recordAPICall(endpoint, false, false)
			return nil, fmt.Errorf("%s (guest retry) HTTP %d: %s", endpoint, status, truncateBytes(body, 200))
		}

	case status != 200:
		c.recordAPICall(endpoint, false, false)
		return nil, fmt.Errorf("%s (guest) HTTP %d: %s", endpoint, status, truncateBytes(body, 200))
	}
	c.recordAPICall(endpoint, true, false)
	return body, nil
}

// requiresAuth returns true for endpoints that need a real authenticated account.
func requiresAuth(endpoint string) bool {
	ep, err := lookupEndpoint(endpoint)
	return err == nil && ep.RequiresAuth
}

// isProxyError returns true if the error looks like a proxy connectivity failure.
func isProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"proxy", "SOCKS", "tunnel", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// markProxyDown applies exponential backoff for proxy failures.
func (c *Client) markProxyDown(acc *Account) {
	acc.mu.Lock()
	acc.proxyConsecFails++
	fails := acc.proxyConsecFails
	acc.mu.Unlock()

	duration := stealth.BackoffConfig{
		InitialWait: c.cfg.ProxyBackoffInitial,
		MaxWait:     c.cfg.ProxyBackoffMax,
		Multiplier:  2.0,
		JitterPct:   0.3,
	}.Duration(fails - 1)

	acc.mu.Lock()
	acc.proxyBackoff = time.Now().Add(duration)
	acc.mu.Unlock()

	slog.Warn("proxy down, backing off",
		slog.String("user", acc.Username),
		slog.String("proxy", stealth.MaskProxy(acc.Proxy)),
		slog.Int("consec_fails", fails),
		slog.Duration("backoff", duration))
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// addGraphQLParams builds the full URL with variables, features, and optional fieldToggles.
// Map keys are marshalled in sorted order, so equal inputs give byte-identical URLs.
func addGraphQLParams(base string, variables, features map[string]any, fieldToggles ...map[string]any) string {
	q := url.Values{}
	v, _ := json.Marshal(variables)
	q.Set("variables", string(v))
	f, _ := json.Marshal(features)
	q.Set("features", string(f))
	if len(fieldToggles) > 0 && fieldToggles[0] != nil {
		ft, _ := json.Marshal(fieldToggles[0])
		q.Set("fieldToggles", string(ft))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
