package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls transport-level retries in DoWithRetry. These sit below the
// session envelope: a retried 429 is still one logical upstream call.
type RetryPolicy struct {
	// Retry429: on 429 Too Many Requests, wait Retry-After (capped at Max429Wait) and resend once.
	Retry429   bool
	Max429Wait time.Duration
	// Retry5xx: on 5xx, wait Backoff5xx and resend once.
	Retry5xx   bool
	Backoff5xx time.Duration
}

// PortalRetryPolicy only absorbs rate limiting. 5xx and bad bodies are left to the
// caller, which answers them by re-authenticating.
var PortalRetryPolicy = RetryPolicy{
	Retry429:   true,
	Max429Wait: 5 * time.Second,
}

// DoWithRetry performs req and, when policy allows, resends it once after a 429 or 5xx.
// Requests must be body-less (GET); the portal API is GET only.
// Caller must close resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	var wait time.Duration
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests && policy.Retry429:
		wait = parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait)
	case code >= 500 && policy.Retry5xx:
		wait = policy.Backoff5xx
	default:
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	req2, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	req2.Header = req.Header.Clone()
	return client.Do(req2)
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns duration capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return capWait(time.Second, max)
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		return capWait(time.Duration(sec)*time.Second, max)
	}
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return capWait(time.Second, max)
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	return capWait(until, max)
}

func capWait(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
