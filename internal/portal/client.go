// Package portal speaks the Stalker middleware load.php API while impersonating a MAG set-top box.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/stalkerm3u/internal/catalog"
	"github.com/snapetech/stalkerm3u/internal/config"
	"github.com/snapetech/stalkerm3u/internal/httpclient"
	"github.com/snapetech/stalkerm3u/internal/metrics"
)

// Actions used against load.php.
const (
	ActionHandshake   = "handshake"
	ActionGetProfile  = "get_profile"
	ActionAllChannels = "get_all_channels"
	ActionGenres      = "get_genres"
	ActionCreateLink  = "create_link"
)

// Client issues raw portal calls. It knows nothing about token lifetime; see session.Manager.
type Client struct {
	Portal  config.Portal
	HTTP    *http.Client
	Metrics *metrics.Metrics
	Sem     *httpclient.HostSemaphore
	Retry   httpclient.RetryPolicy
	Now     func() time.Time

	limiter *rate.Limiter
}

// NewClient returns a Client for p. hc nil = httpclient.ForPortal with the default timeout.
func NewClient(p config.Portal, hc *http.Client, m *metrics.Metrics) *Client {
	if hc == nil {
		hc = httpclient.ForPortal(0)
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if p.UpstreamRPS > 0 {
		burst := int(p.UpstreamRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.UpstreamRPS), burst)
	}
	return &Client{
		Portal:  p,
		HTTP:    hc,
		Metrics: m,
		Sem:     httpclient.GlobalHostSem,
		Retry:   httpclient.PortalRetryPolicy,
		Now:     time.Now,
		limiter: lim,
	}
}

// Handshake runs type=stb&action=handshake. Pass "" for a fresh session or an existing
// token to have the portal confirm (and possibly rotate) it. The returned token may be ""
// when the portal refused; that is not an error at this level.
func (c *Client) Handshake(ctx context.Context, token string) (string, error) {
	raw, err := c.call(ctx, "stb", ActionHandshake, url.Values{"token": {token}, "mac": {c.Portal.MAC}}, "")
	if err != nil {
		return "", err
	}
	var js struct {
		Token string `json:"token"`
	}
	env := decodeEnvelope(raw)
	if present(env.JS) {
		_ = json.Unmarshal(env.JS, &js)
	}
	if js.Token == "" {
		log.Printf("portal %s: handshake returned no token: %s", c.Portal.Name, snippet(raw))
	}
	return js.Token, nil
}

// GetProfile activates token on the portal. Nothing in the answer is used.
func (c *Client) GetProfile(ctx context.Context, token string) error {
	p := c.Portal
	q := url.Values{
		"sn":            {p.SerialNumber},
		"device_id":     {p.DeviceID},
		"device_id2":    {p.DeviceID2},
		"signature":     {p.Signature},
		"timestamp":     {strconv.FormatInt(c.Now().Unix(), 10)},
		"api_signature": {p.APISignature},
	}
	_, err := c.call(ctx, "stb", ActionGetProfile, q, token)
	return err
}

// GetAllChannels returns js.data of itv/get_all_channels.
// A body without js.data is ErrInvalidResponse (dead sessions answer that way).
func (c *Client) GetAllChannels(ctx context.Context, token string) ([]catalog.Channel, error) {
	raw, err := c.call(ctx, "itv", ActionAllChannels, nil, token)
	if err != nil {
		return nil, err
	}
	var js struct {
		Data json.RawMessage `json:"data"`
	}
	env := decodeEnvelope(raw)
	if present(env.JS) {
		_ = json.Unmarshal(env.JS, &js)
	}
	if !present(js.Data) {
		return nil, fmt.Errorf("%s: %w: %s", ActionAllChannels, ErrInvalidResponse, snippet(raw))
	}
	var channels []catalog.Channel
	if err := json.Unmarshal(js.Data, &channels); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", ActionAllChannels, ErrInvalidResponse, err)
	}
	return channels, nil
}

// GetGenres returns the genre map. A malformed body degrades to an empty map.
func (c *Client) GetGenres(ctx context.Context, token string) (catalog.Genres, error) {
	raw, err := c.call(ctx, "itv", ActionGenres, nil, token)
	if err != nil {
		return nil, err
	}
	var list []catalog.Genre
	env := decodeEnvelope(raw)
	if present(env.JS) {
		if err := json.Unmarshal(env.JS, &list); err != nil {
			log.Printf("portal %s: get_genres unparseable, using empty map: %v", c.Portal.Name, err)
			list = nil
		}
	}
	return catalog.NewGenres(list), nil
}

// CreateLink asks for a one-time stream URL for cmd. Returns js.cmd verbatim ("" when absent).
func (c *Client) CreateLink(ctx context.Context, token, cmd string) (string, error) {
	raw, err := c.call(ctx, "itv", ActionCreateLink, url.Values{"cmd": {cmd}}, token)
	if err != nil {
		return "", err
	}
	var js struct {
		Cmd string `json:"cmd"`
	}
	env := decodeEnvelope(raw)
	if present(env.JS) {
		_ = json.Unmarshal(env.JS, &js)
	}
	if js.Cmd == "" {
		log.Printf("portal %s: create_link for %q returned no cmd: %s", c.Portal.Name, cmd, snippet(raw))
	}
	return js.Cmd, nil
}

// call performs one load.php GET and returns the decoded body. Transport errors and
// non-200 statuses are errors; body content is left to the caller.
func (c *Client) call(ctx context.Context, typ, action string, q url.Values, token string) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("type", typ)
	q.Set("action", action)
	q.Set("JsHttpRequest", "1-xml")
	target := c.Portal.APIURL() + "?" + q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", action, err)
	}
	c.setDeviceHeaders(req, token)

	start := time.Now()
	release := c.Sem.Acquire(target)
	resp, err := httpclient.DoWithRetry(ctx, c.HTTP, req, c.Retry)
	release()
	if err != nil {
		c.Metrics.ObserveUpstream(c.Portal.Name, action, "error", start)
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		c.Metrics.ObserveUpstream(c.Portal.Name, action, "error", start)
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.Metrics.ObserveUpstream(c.Portal.Name, action, "error", start)
		return nil, fmt.Errorf("%s: HTTP %d: %s", action, resp.StatusCode, snippet(body))
	}
	c.Metrics.ObserveUpstream(c.Portal.Name, action, "ok", start)
	return body, nil
}

// setDeviceHeaders makes the request look like it came from the STB web client.
func (c *Client) setDeviceHeaders(req *http.Request, token string) {
	p := c.Portal
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("X-User-Agent", p.XUserAgent)
	req.Header.Set("Referer", p.Referer())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", httpclient.AcceptEncoding)
	tz := p.Timezone
	if tz == "" {
		tz = "GMT"
	}
	req.Header.Set("Cookie", "mac="+p.MAC+"; stb_lang=en; timezone="+tz)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
