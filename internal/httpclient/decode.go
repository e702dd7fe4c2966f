package httpclient

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is what portal requests advertise; ReadBody undoes all of them.
const AcceptEncoding = "gzip, br"

// MaxBodyBytes caps decoded upstream bodies (channel lists of a few thousand entries are ~2 MiB).
const MaxBodyBytes = 32 << 20

// ReadBody reads resp.Body, transparently decoding gzip or brotli per Content-Encoding.
// The caller still owns closing resp.Body.
func ReadBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", enc)
	}
	body, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
