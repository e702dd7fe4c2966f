// Package handler serves one portal deployment: ?id= resolves a channel and redirects
// to its stream; no id renders the playlist.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/snapetech/stalkerm3u/internal/catalog"
	"github.com/snapetech/stalkerm3u/internal/config"
	"github.com/snapetech/stalkerm3u/internal/metrics"
	"github.com/snapetech/stalkerm3u/internal/playlist"
	"github.com/snapetech/stalkerm3u/internal/portal"
)

// Source is the catalog side of a deployment; *indexer.Fetcher implements it.
type Source interface {
	Channels(ctx context.Context) ([]catalog.Channel, error)
	Genres(ctx context.Context) (catalog.Genres, error)
	StreamURL(ctx context.Context, id, cmd string) (string, error)
}

// Handler is the HTTP entry point for one deployment.
type Handler struct {
	Portal  config.Portal
	Source  Source
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(p config.Portal, src Source, m *metrics.Metrics) *Handler {
	return &Handler{Portal: p, Source: src, Metrics: m, Now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("id")); id != "" {
		code := h.serveResolve(w, r, id)
		h.Metrics.Request(h.Portal.Name, "resolve", code)
		return
	}
	mode := "playlist"
	debug := h.Portal.Debug && q.Get("debug") == "1"
	if debug {
		mode = "debug"
	}
	code := h.servePlaylist(w, r, debug)
	h.Metrics.Request(h.Portal.Name, mode, code)
}

// serveResolve finds the portal cmd for id, mints a link and redirects to it.
// HEAD stops after the lookup: create_link links are single use.
func (h *Handler) serveResolve(w http.ResponseWriter, r *http.Request, id string) int {
	ctx := r.Context()
	cmd, err := h.CmdFor(ctx, id)
	if err != nil {
		return h.writeError(w, err)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}
	streamURL, err := h.Source.StreamURL(ctx, id, cmd)
	if err != nil {
		return h.writeError(w, err)
	}
	log.Printf("%s: resolve id=%s cmd=%q -> %s", h.Portal.Name, id, cmd, redact(streamURL))
	http.Redirect(w, r, streamURL, http.StatusFound)
	return http.StatusFound
}

// CmdFor returns the portal cmd for a client id under the deployment's resolve strategy.
// Unknown ids under the lookup strategy are *portal.NotFoundError.
func (h *Handler) CmdFor(ctx context.Context, id string) (string, error) {
	if h.Portal.ResolveStrategy == config.ResolveDirect {
		return catalog.DirectCmd(id), nil
	}
	channels, err := h.Source.Channels(ctx)
	if err != nil {
		return "", err
	}
	ch, ok := catalog.Find(channels, id, h.Portal.CmdPrefix)
	if !ok {
		return "", &portal.NotFoundError{ID: id}
	}
	if strings.TrimSpace(ch.Cmd) == "" {
		return catalog.DirectCmd(string(ch.ID)), nil
	}
	return ch.Cmd, nil
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request, debug bool) int {
	ctx := r.Context()
	var (
		wg       sync.WaitGroup
		channels []catalog.Channel
		genres   catalog.Genres
		chErr    error
		gErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		channels, chErr = h.Source.Channels(ctx)
	}()
	go func() {
		defer wg.Done()
		genres, gErr = h.Source.Genres(ctx)
	}()
	wg.Wait()
	if chErr != nil {
		return h.writeError(w, chErr)
	}
	if gErr != nil {
		return h.writeError(w, gErr)
	}

	opt := playlist.Options{
		BaseURL:      h.baseURL(r),
		LogoBase:     h.Portal.LogoBase(),
		FallbackLogo: h.Portal.FallbackLogo,
		CmdPrefix:    h.Portal.CmdPrefix,
		Now:          h.now(),
	}
	if debug {
		return writeJSON(w, http.StatusOK, preview(h.Portal.Name, channels, genres, opt))
	}
	body := playlist.Render(channels, genres, opt)
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `inline; filename="`+h.filename()+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
	return http.StatusOK
}

// baseURL is the URL players call back with ?id=. PublicBaseURL wins; otherwise it is
// rebuilt from the request, honouring X-Forwarded-Proto from a fronting proxy.
func (h *Handler) baseURL(r *http.Request) string {
	if b := strings.TrimSpace(h.Portal.PublicBaseURL); b != "" {
		return strings.TrimSuffix(b, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (h *Handler) filename() string {
	if h.Portal.PlaylistFilename == "" {
		return "playlist.m3u"
	}
	return h.Portal.PlaylistFilename
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) int {
	code := statusFor(err)
	var (
		nf *portal.NotFoundError
		re *portal.ResolutionError
	)
	switch {
	case errors.As(err, &nf):
		return writeJSON(w, code, map[string]string{"error": "Channel not found", "id": nf.ID})
	case errors.As(err, &re):
		log.Printf("%s: %v", h.Portal.Name, err)
		return writeJSON(w, code, map[string]string{"error": "Failed to create link", "id": re.ID, "cmd": re.Cmd})
	default:
		log.Printf("%s: %v", h.Portal.Name, err)
		return writeJSON(w, code, map[string]string{"error": err.Error()})
	}
}

// statusFor maps a fetch/resolve error to the HTTP status sent to the client.
func statusFor(err error) int {
	var nf *portal.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	return code
}

// redact drops the query string, which usually carries a play token.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?..."
	}
	return u
}
