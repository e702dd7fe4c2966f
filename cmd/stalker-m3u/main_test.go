package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/stalkerm3u/internal/portaltest"
	"github.com/snapetech/stalkerm3u/internal/server"
)

func newDeployments(t *testing.T) (*portaltest.Server, []*server.Deployment) {
	t.Helper()
	fake := portaltest.New(func(s *portaltest.Server) {
		s.Channels = []portaltest.Channel{{ID: "7", Name: "News 24", Logo: "n.jpg", GenreID: "2", Cmd: "ffrt http://localhost/ch/7007"}}
		s.Genres = []portaltest.Genre{{ID: "2", Title: "News"}}
		s.Link = "ffmpeg http://cdn.example/7007.m3u8"
	})
	t.Cleanup(fake.Close)
	store, closeStore, err := openStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(closeStore)
	p := fake.Portal("tatatv")
	p.TokenTTL = time.Minute
	p.CatalogTTL = time.Minute
	return fake, []*server.Deployment{server.NewDeployment(p, store, nil, nil)}
}

func TestWritePlaylist(t *testing.T) {
	_, deps := newDeployments(t)
	var b strings.Builder
	n, err := writePlaylist(context.Background(), &b, deps[0], "https://tv.example/tatatv")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("channels = %d", n)
	}
	out := b.String()
	if !strings.Contains(out, `tvg-id="7007"`) || !strings.Contains(out, "\nhttps://tv.example/tatatv?id=7007\n") {
		t.Errorf("playlist:\n%s", out)
	}
	if !strings.Contains(out, `group-title="News",News 24`) {
		t.Errorf("group missing:\n%s", out)
	}
}

func TestResolve(t *testing.T) {
	fake, deps := newDeployments(t)
	u, err := resolve(context.Background(), deps[0], "7007")
	if err != nil {
		t.Fatal(err)
	}
	if u != "http://cdn.example/7007.m3u8" {
		t.Errorf("url = %q", u)
	}
	if cmds := fake.LinkCmds(); len(cmds) != 1 || cmds[0] != "ffrt http://localhost/ch/7007" {
		t.Errorf("create_link cmds = %v", cmds)
	}
	if _, err := resolve(context.Background(), deps[0], "9999"); err == nil {
		t.Error("expected not found for unknown id")
	}
}

func TestProbe(t *testing.T) {
	fake, deps := newDeployments(t)
	if failed := probe(context.Background(), deps); failed != 0 {
		t.Errorf("failed = %d", failed)
	}
	fake.Set(func(s *portaltest.Server) { s.NoToken = true })
	if failed := probe(context.Background(), deps); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestPick(t *testing.T) {
	_, deps := newDeployments(t)
	if d, err := pick(deps, ""); err != nil || d.Portal.Name != "tatatv" {
		t.Errorf("default pick = %v, %v", d, err)
	}
	if _, err := pick(deps, "nope"); err == nil {
		t.Error("expected error for unknown deployment")
	}
}

func setRunEnv(t *testing.T, fake *portaltest.Server) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STALKER_DEPLOYMENTS_FILE", "")
	t.Setenv("STALKER_PORTAL_URL", fake.URL+"/stalker_portal/c/")
	t.Setenv("STALKER_SCHEME", "http")
	t.Setenv("STALKER_MAC", "00:1A:79:00:13:DA")
	t.Setenv("STALKER_CACHE_DB", filepath.Join(dir, "cache.db"))
	return dir
}

func TestRun_playlistToFile(t *testing.T) {
	fake, _ := newDeployments(t)
	out := filepath.Join(setRunEnv(t, fake), "out.m3u")

	if code := run([]string{"playlist", "-o", out, "-base-url", "https://tv.example/tatatv"}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "#EXTM3U\n") || !strings.Contains(string(b), "https://tv.example/tatatv?id=7007\n") {
		t.Errorf("playlist file:\n%s", b)
	}
}

func TestRun_failureReturnsExitCode(t *testing.T) {
	fake, _ := newDeployments(t)
	fake.Set(func(s *portaltest.Server) { s.NoToken = true })
	dir := setRunEnv(t, fake)
	out := filepath.Join(dir, "out.m3u")

	if code := run([]string{"playlist", "-o", out}); code != 1 {
		t.Errorf("playlist exit code = %d, want 1", code)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file: %v", err)
	}
	// The cache handle was released: the database reopens and run works again.
	fake.Set(func(s *portaltest.Server) { s.NoToken = false })
	if code := run([]string{"resolve", "-id", "7007"}); code != 0 {
		t.Errorf("resolve after failure exit code = %d, want 0", code)
	}

	for name, args := range map[string][]string{
		"no command":      nil,
		"unknown command": {"nope"},
		"missing id":      {"resolve"},
	} {
		if code := run(args); code != 1 {
			t.Errorf("%s: exit code = %d, want 1", name, code)
		}
	}
	if code := run([]string{"probe", "-bogus"}); code != 2 {
		t.Errorf("bad flag exit code = %d, want 2", code)
	}
}
