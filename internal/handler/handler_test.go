package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapetech/stalkerm3u/internal/catalog"
	"github.com/snapetech/stalkerm3u/internal/config"
	"github.com/snapetech/stalkerm3u/internal/indexer"
	"github.com/snapetech/stalkerm3u/internal/metrics"
	"github.com/snapetech/stalkerm3u/internal/portal"
	"github.com/snapetech/stalkerm3u/internal/portaltest"
	"github.com/snapetech/stalkerm3u/internal/session"
)

type fakeSource struct {
	channels    []catalog.Channel
	genres      catalog.Genres
	link        string
	err         error
	channelHits atomic.Int32
	gotCmd      string
}

func (s *fakeSource) Channels(context.Context) ([]catalog.Channel, error) {
	s.channelHits.Add(1)
	return s.channels, s.err
}

func (s *fakeSource) Genres(context.Context) (catalog.Genres, error) { return s.genres, nil }

func (s *fakeSource) StreamURL(_ context.Context, id, cmd string) (string, error) {
	s.gotCmd = cmd
	if s.link == "" {
		return "", &portal.ResolutionError{ID: id, Cmd: cmd}
	}
	return s.link, nil
}

func testPortal() config.Portal {
	return config.Portal{
		Name:             "tatatv",
		Route:            "/api/tatatv",
		URL:              "https://tatatv.cc/stalker_portal/c/",
		Scheme:           "https",
		ResolveStrategy:  config.ResolveLookup,
		CmdPrefix:        config.DefaultCmdPrefix,
		FallbackLogo:     config.DefaultFallbackLogo,
		PlaylistFilename: "tatatv.m3u8",
	}
}

func newSource() *fakeSource {
	return &fakeSource{
		channels: []catalog.Channel{
			{ID: "101", Name: "Channel A", Logo: "logo.png", GenreID: "5", Cmd: "ffrt http://localhost/ch/101"},
			{ID: "102", Name: "Channel B", GenreID: "9", Cmd: "ffrt http://localhost/ch/102"},
		},
		genres: catalog.Genres{"5": "Sports"},
		link:   "http://cdn.example/live/101.ts?play_token=abc",
	}
}

func TestHandler_playlist(t *testing.T) {
	h := New(testPortal(), newSource(), nil)
	h.Now = func() time.Time { return time.Date(2026, 1, 2, 9, 5, 0, 0, time.UTC) }
	req := httptest.NewRequest(http.MethodGet, "https://proxy.example/api/tatatv", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/x-mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `inline; filename="tatatv.m3u8"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U\n#DATE:- 2/1/2026, 9:05:00 am\n\n") {
		t.Errorf("header:\n%s", body)
	}
	want := `#EXTINF:-1 tvg-id="101" tvg-logo="https://tatatv.cc/stalker_portal/misc/logos/320/logo.png" group-title="Sports",Channel A` +
		"\nhttps://proxy.example/api/tatatv?id=101\n"
	if !strings.Contains(body, want) {
		t.Errorf("missing entry %q in:\n%s", want, body)
	}
	if !strings.Contains(body, `group-title="Others",Channel B`) {
		t.Errorf("unknown genre should be Others:\n%s", body)
	}
}

func TestHandler_playlistForwardedProtoAndPublicBase(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/api/tatatv", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	New(testPortal(), newSource(), nil).ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "https://proxy.example/api/tatatv?id=101") {
		t.Errorf("forwarded proto not honoured:\n%s", w.Body.String())
	}

	p := testPortal()
	p.PublicBaseURL = "https://iptv.example/tv/"
	w = httptest.NewRecorder()
	New(p, newSource(), nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv", nil))
	if !strings.Contains(w.Body.String(), "\nhttps://iptv.example/tv?id=101\n") {
		t.Errorf("public base not used:\n%s", w.Body.String())
	}
}

func TestHandler_resolveLookup(t *testing.T) {
	src := newSource()
	h := New(testPortal(), src, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?id=101", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("code: %d body=%s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != src.link {
		t.Errorf("Location = %q", loc)
	}
	if src.gotCmd != "ffrt http://localhost/ch/101" {
		t.Errorf("create_link cmd = %q, want the catalog cmd", src.gotCmd)
	}
}

func TestHandler_resolveLookupNotFound(t *testing.T) {
	h := New(testPortal(), newSource(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?id=999", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("code: %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["id"] != "999" || body["error"] != "Channel not found" {
		t.Errorf("body = %v", body)
	}
}

func TestHandler_headResolveDoesNotMintLink(t *testing.T) {
	for _, tc := range []struct {
		id   string
		want int
	}{
		{"101", http.StatusOK},
		{"999", http.StatusNotFound},
	} {
		t.Run(tc.id, func(t *testing.T) {
			src := newSource()
			w := httptest.NewRecorder()
			New(testPortal(), src, nil).ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/api/tatatv?id="+tc.id, nil))
			if w.Code != tc.want {
				t.Fatalf("code = %d, want %d", w.Code, tc.want)
			}
			if src.gotCmd != "" {
				t.Errorf("HEAD called create_link with %q", src.gotCmd)
			}
			if w.Header().Get("Location") != "" {
				t.Errorf("HEAD redirected to %q", w.Header().Get("Location"))
			}
		})
	}
}

func TestHandler_resolveDirect(t *testing.T) {
	src := newSource()
	p := testPortal()
	p.ResolveStrategy = config.ResolveDirect
	w := httptest.NewRecorder()
	New(p, src, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?id=555", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("code: %d", w.Code)
	}
	if src.gotCmd != "/ch/555" {
		t.Errorf("cmd = %q, want /ch/555", src.gotCmd)
	}
	if n := src.channelHits.Load(); n != 0 {
		t.Errorf("direct strategy fetched the catalog %d times", n)
	}
}

func TestHandler_resolutionError(t *testing.T) {
	src := newSource()
	src.link = ""
	w := httptest.NewRecorder()
	New(testPortal(), src, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?id=101", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Failed to create link") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandler_upstreamErrorIs500(t *testing.T) {
	src := newSource()
	src.err = &portal.UpstreamError{Portal: "tatatv", Action: "get_all_channels", Err: errors.New("boom")}
	w := httptest.NewRecorder()
	New(testPortal(), src, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandler_methodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	New(testPortal(), newSource(), nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tatatv", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("code: %d", w.Code)
	}
}

func TestHandler_debugPreview(t *testing.T) {
	p := testPortal()
	p.Debug = true
	w := httptest.NewRecorder()
	New(p, newSource(), nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?debug=1", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var body previewBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Channels != 2 || body.Genres != 1 || len(body.Sample) != 2 {
		t.Errorf("preview = %+v", body)
	}
	if body.Sample[0].Group != "Sports" || body.Sample[1].Group != "Others" {
		t.Errorf("groups = %q, %q", body.Sample[0].Group, body.Sample[1].Group)
	}

	// Without debug enabled on the deployment the playlist is served.
	w = httptest.NewRecorder()
	New(testPortal(), newSource(), nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tatatv?debug=1", nil))
	if ct := w.Header().Get("Content-Type"); ct != "audio/x-mpegurl" {
		t.Errorf("debug disabled: Content-Type = %q", ct)
	}
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{&portal.NotFoundError{ID: "1"}, http.StatusNotFound},
		{&portal.ResolutionError{ID: "1"}, http.StatusInternalServerError},
		{&portal.AuthError{Portal: "p"}, http.StatusInternalServerError},
		{errors.New("x"), http.StatusInternalServerError},
	} {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%T) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHandler_endToEnd(t *testing.T) {
	fake := portaltest.New(func(s *portaltest.Server) {
		s.Channels = []portaltest.Channel{
			{ID: "101", Name: "Channel A", Logo: "logo.png", GenreID: "5", Cmd: "ffrt http://localhost/ch/101"},
		}
		s.Genres = []portaltest.Genre{{ID: "*", Title: "All"}, {ID: "5", Title: "Sports"}}
		s.Link = "ffmpeg http://cdn.example/live/101.ts"
		s.BodyPrefix = "Notice: session_start(): ignored\n"
	})
	defer fake.Close()

	p := fake.Portal("tatatv")
	m := metrics.New()
	client := portal.NewClient(p, nil, m)
	sess := session.New(client, nil, p.Name, time.Minute, true, m)
	h := New(p, indexer.New(client, sess, p.Name, nil, 0), m)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tatatv")
	if err != nil {
		t.Fatal(err)
	}
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("playlist code: %d body=%s", resp.StatusCode, buf.String())
	}
	wantLogo := fake.URL + "/stalker_portal/misc/logos/320/logo.png"
	want := `#EXTINF:-1 tvg-id="101" tvg-logo="` + wantLogo + `" group-title="Sports",Channel A` + "\n" + srv.URL + "/tatatv?id=101\n"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("playlist missing %q:\n%s", want, buf.String())
	}

	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = noRedirect.Get(srv.URL + "/tatatv?id=101")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("resolve code: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "http://cdn.example/live/101.ts" {
		t.Errorf("Location = %q", loc)
	}
	if cmds := fake.LinkCmds(); len(cmds) != 1 || cmds[0] != "ffrt http://localhost/ch/101" {
		t.Errorf("create_link cmds = %v", cmds)
	}
	// Token reused across both requests: one fresh and one confirming handshake.
	if got := fake.Calls("handshake"); got != 2 {
		t.Errorf("handshake calls = %d, want 2", got)
	}
}
