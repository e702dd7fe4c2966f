package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	DefaultTimeout         = 20 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		// Accept-Encoding is set explicitly by callers and decoded by ReadBody.
		DisableCompression: true,
	}
}

// ForPortal returns a client for talking to one Stalker portal: own transport,
// a cookie jar so server-set cookies (PHPSESSID and friends) ride along with the
// spoofed mac cookie, and redirects allowed as usual.
func ForPortal(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &http.Client{Timeout: timeout, Transport: newTransport()}
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		c.Jar = jar
	}
	return c
}
