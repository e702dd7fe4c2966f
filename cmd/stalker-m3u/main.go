// Command stalker-m3u: expose Stalker portals as M3U playlists with redirecting play URLs.
//
//	serve     Serve every deployment on its route, plus /healthz and /metrics
//	playlist  Fetch one deployment's catalog and write the playlist to stdout or -o
//	resolve   Print the live stream URL for one channel id
//	probe     Handshake against every deployment and report which portals answer
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snapetech/stalkerm3u/internal/cache"
	"github.com/snapetech/stalkerm3u/internal/config"
	"github.com/snapetech/stalkerm3u/internal/health"
	"github.com/snapetech/stalkerm3u/internal/httpclient"
	"github.com/snapetech/stalkerm3u/internal/metrics"
	"github.com/snapetech/stalkerm3u/internal/playlist"
	"github.com/snapetech/stalkerm3u/internal/server"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[stalker-m3u] ")
	os.Exit(run(os.Args[1:]))
}

// run executes one subcommand and returns the process exit code. Deferred cleanup
// (cache handle, output file) has finished by the time it returns.
func run(args []string) int {
	serveCmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: STALKER_ADDR or :8080)")

	playlistCmd := flag.NewFlagSet("playlist", flag.ContinueOnError)
	playlistDep := playlistCmd.String("deployment", "", "Deployment name (default: first configured)")
	playlistOut := playlistCmd.String("o", "", "Output file (default: stdout)")
	playlistBase := playlistCmd.String("base-url", "", "Play URL base written into the playlist (default: public_base_url)")

	resolveCmd := flag.NewFlagSet("resolve", flag.ContinueOnError)
	resolveDep := resolveCmd.String("deployment", "", "Deployment name (default: first configured)")
	resolveID := resolveCmd.String("id", "", "Channel id as it appears in ?id=")

	probeCmd := flag.NewFlagSet("probe", flag.ContinueOnError)
	probeTimeout := probeCmd.Duration("timeout", 30*time.Second, "Timeout for all handshakes")

	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: stalker-m3u <serve|playlist|resolve|probe> [flags]\n")
		fmt.Fprintf(os.Stderr, "  serve     Serve all deployments (routes from STALKER_ROUTE or the deployments file)\n")
		fmt.Fprintf(os.Stderr, "  playlist  Write one deployment's playlist (-o file, -base-url http://host/route)\n")
		fmt.Fprintf(os.Stderr, "  resolve   Print the stream URL for -id\n")
		fmt.Fprintf(os.Stderr, "  probe     Handshake against every deployment\n")
		return 1
	}
	var fs *flag.FlagSet
	switch args[0] {
	case "serve":
		fs = serveCmd
	case "playlist":
		fs = playlistCmd
	case "resolve":
		fs = resolveCmd
	case "probe":
		fs = probeCmd
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", args[0])
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Config: %v", err)
		return 1
	}
	store, closeStore, err := openStore(cfg.CacheDB)
	if err != nil {
		log.Printf("Cache: %v", err)
		return 1
	}
	defer closeStore()

	m := metrics.New()
	hc := httpclient.ForPortal(cfg.HTTPTimeout)
	deps := make([]*server.Deployment, 0, len(cfg.Deployments))
	for _, p := range cfg.Deployments {
		deps = append(deps, server.NewDeployment(p, store, hc, m))
	}

	switch args[0] {
	case "serve":
		addr := cfg.Addr
		if *serveAddr != "" {
			addr = *serveAddr
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		srv := &server.Server{Addr: addr, Deployments: deps, Metrics: m}
		if err := srv.Run(ctx); err != nil {
			log.Printf("Serve: %v", err)
			return 1
		}

	case "playlist":
		d, err := pick(deps, *playlistDep)
		if err != nil {
			log.Print(err)
			return 1
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n, err := playlistTo(ctx, *playlistOut, d, *playlistBase)
		if err != nil {
			log.Printf("Playlist %s: %v", d.Portal.Name, err)
			return 1
		}
		if *playlistOut != "" {
			log.Printf("Wrote %d channels to %s", n, *playlistOut)
		}

	case "resolve":
		if *resolveID == "" {
			log.Print("resolve: -id is required")
			return 1
		}
		d, err := pick(deps, *resolveDep)
		if err != nil {
			log.Print(err)
			return 1
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		u, err := resolve(ctx, d, *resolveID)
		if err != nil {
			log.Printf("Resolve %s: %v", *resolveID, err)
			return 1
		}
		fmt.Println(u)

	case "probe":
		ctx, cancel := context.WithTimeout(context.Background(), *probeTimeout)
		defer cancel()
		if failed := probe(ctx, deps); failed > 0 {
			log.Printf("--- %d/%d deployments failed ---", failed, len(deps))
			return 1
		}
		log.Printf("--- %d deployments OK ---", len(deps))
	}
	return 0
}

// playlistTo writes d's playlist to path, or stdout when path is empty. The file is
// closed before returning and a failed close is reported.
func playlistTo(ctx context.Context, path string, d *server.Deployment, base string) (n int, err error) {
	if path == "" {
		return writePlaylist(ctx, os.Stdout, d, base)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return writePlaylist(ctx, f, d, base)
}

// openStore returns SQLite when path is set (expired rows purged on open), else an in-memory store.
func openStore(path string) (cache.Store, func(), error) {
	if path == "" {
		return cache.NewMemory(), func() {}, nil
	}
	db, err := cache.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	if n, err := db.Purge(context.Background(), time.Now()); err != nil {
		log.Printf("Cache purge: %v", err)
	} else if n > 0 {
		log.Printf("Cache: purged %d expired entries from %s", n, path)
	}
	return db, func() { _ = db.Close() }, nil
}

func pick(deps []*server.Deployment, name string) (*server.Deployment, error) {
	if name == "" && len(deps) > 0 {
		return deps[0], nil
	}
	for _, d := range deps {
		if d.Portal.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no deployment named %q", name)
}

// writePlaylist renders d's catalog to w and returns the channel count.
func writePlaylist(ctx context.Context, w io.Writer, d *server.Deployment, base string) (int, error) {
	channels, err := d.Fetcher.Channels(ctx)
	if err != nil {
		return 0, err
	}
	genres, err := d.Fetcher.Genres(ctx)
	if err != nil {
		return 0, err
	}
	if base == "" {
		base = d.Portal.PublicBaseURL
	}
	if base == "" {
		base = "http://localhost:8080" + d.Portal.Route
	}
	out := playlist.Render(channels, genres, playlist.Options{
		BaseURL:      base,
		LogoBase:     d.Portal.LogoBase(),
		FallbackLogo: d.Portal.FallbackLogo,
		CmdPrefix:    d.Portal.CmdPrefix,
		Now:          time.Now(),
	})
	if _, err := io.WriteString(w, out); err != nil {
		return 0, err
	}
	return len(channels), nil
}

// resolve follows the same path as ?id= on the HTTP handler and returns the stream URL.
func resolve(ctx context.Context, d *server.Deployment, id string) (string, error) {
	cmd, err := d.Handler.CmdFor(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Fetcher.StreamURL(ctx, id, cmd)
}

// probe handshakes against each deployment and returns how many failed.
func probe(ctx context.Context, deps []*server.Deployment) int {
	failed := 0
	for _, d := range deps {
		start := time.Now()
		err := health.CheckPortal(ctx, d.Client)
		dur := time.Since(start).Round(time.Millisecond)
		if err != nil {
			failed++
			log.Printf("  %-12s %s  FAIL  %dms  %v", d.Portal.Name, d.Portal.Host(), dur.Milliseconds(), err)
			continue
		}
		log.Printf("  %-12s %s  OK    %dms", d.Portal.Name, d.Portal.Host(), dur.Milliseconds())
	}
	return failed
}
