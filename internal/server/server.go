// Package server exposes every configured deployment over HTTP, plus /healthz and /metrics.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/snapetech/stalkerm3u/internal/health"
	"github.com/snapetech/stalkerm3u/internal/metrics"
)

// Server routes each deployment's Route to its handler.
type Server struct {
	Addr        string
	Deployments []*Deployment
	Metrics     *metrics.Metrics
}

// Handler returns the full mux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, d := range s.Deployments {
		mux.Handle(d.Portal.Route, d.Handler)
	}
	mux.Handle("/healthz", s.serveHealth())
	mux.Handle("/metrics", s.Metrics.Handler())
	return logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		for _, d := range s.Deployments {
			log.Printf("Serving %s on %s (portal %s, resolve=%s)", d.Portal.Name, d.Portal.Route, d.Portal.Host(), d.Portal.ResolveStrategy)
		}
		log.Printf("Listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("Shutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

// serveHealth answers GET /healthz from cached session state only; it never calls a portal.
func (s *Server) serveHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targets := make([]health.Target, 0, len(s.Deployments))
		for _, d := range s.Deployments {
			targets = append(targets, health.Target{Name: d.Portal.Name, Route: d.Portal.Route, Session: d.Sessions})
		}
		w.Header().Set("Content-Type", "application/json")
		body, _ := json.Marshal(health.Snapshot(r.Context(), targets))
		_, _ = w.Write(body)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// logRequests logs one line per request and tags it with an X-Request-Id
// (the caller's, or a new uuid).
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s rid=%s ua=%q remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), rid, r.UserAgent(), r.RemoteAddr,
		)
	})
}
