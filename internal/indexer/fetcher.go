// Package indexer fetches a portal's channel list and genre map over an authenticated
// session and resolves stream commands to playable URLs.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/snapetech/stalkerm3u/internal/cache"
	"github.com/snapetech/stalkerm3u/internal/catalog"
	"github.com/snapetech/stalkerm3u/internal/portal"
	"github.com/snapetech/stalkerm3u/internal/safeurl"
)

// Sessions supplies tokens; *session.Manager implements it.
type Sessions interface {
	Token(ctx context.Context, force bool) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// API is the authenticated part of *portal.Client.
type API interface {
	GetAllChannels(ctx context.Context, token string) ([]catalog.Channel, error)
	GetGenres(ctx context.Context, token string) (catalog.Genres, error)
	CreateLink(ctx context.Context, token, cmd string) (string, error)
}

// Fetcher reads one deployment's catalog.
type Fetcher struct {
	API      API
	Sessions Sessions
	Portal   string
	Store    cache.Store   // nil disables catalog caching
	TTL      time.Duration // catalog cache window; 0 disables caching
	Now      func() time.Time
}

// New returns a Fetcher. store may be nil.
func New(api API, sessions Sessions, name string, store cache.Store, ttl time.Duration) *Fetcher {
	return &Fetcher{API: api, Sessions: sessions, Portal: name, Store: store, TTL: ttl, Now: time.Now}
}

// Channels returns the channel list in portal order.
func (f *Fetcher) Channels(ctx context.Context) ([]catalog.Channel, error) {
	return cached(ctx, f, "channels:"+f.Portal, func(ctx context.Context) ([]catalog.Channel, error) {
		var out []catalog.Channel
		err := f.withSession(ctx, portal.ActionAllChannels, func(tok string) error {
			chs, err := f.API.GetAllChannels(ctx, tok)
			if err != nil {
				return err
			}
			out = chs
			return nil
		})
		return out, err
	})
}

// Genres returns genre id → title, without the "*" pseudo-genre.
func (f *Fetcher) Genres(ctx context.Context) (catalog.Genres, error) {
	return cached(ctx, f, "genres:"+f.Portal, func(ctx context.Context) (catalog.Genres, error) {
		var out catalog.Genres
		err := f.withSession(ctx, portal.ActionGenres, func(tok string) error {
			g, err := f.API.GetGenres(ctx, tok)
			if err != nil {
				return err
			}
			out = g
			return nil
		})
		return out, err
	})
}

// StreamURL asks the portal for a one-time link for cmd and returns the playable http(s)
// URL. A portal answer without one is a *portal.ResolutionError and is not retried.
func (f *Fetcher) StreamURL(ctx context.Context, id, cmd string) (string, error) {
	var link string
	err := f.withSession(ctx, portal.ActionCreateLink, func(tok string) error {
		l, err := f.API.CreateLink(ctx, tok, cmd)
		if err != nil {
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		return "", err
	}
	u, ok := safeurl.PlayableURL(link)
	if !ok {
		return "", &portal.ResolutionError{ID: id, Cmd: cmd, Raw: link}
	}
	return u, nil
}

// withSession runs fn with the current token. A failure, whether establishing the
// session or in fn, earns one forced refresh and one more try; a second fn failure is a
// *portal.UpstreamError and a second session failure a *portal.AuthError.
func (f *Fetcher) withSession(ctx context.Context, action string, fn func(token string) error) error {
	tok, err := f.Sessions.Token(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return asAuthError(f.Portal, err)
		}
		log.Printf("portal %s: session failed, retrying with forced handshake: %v", f.Portal, err)
		if tok, err = f.Sessions.Token(ctx, true); err != nil {
			return asAuthError(f.Portal, err)
		}
		if err := fn(tok); err != nil {
			return &portal.UpstreamError{Portal: f.Portal, Action: action, Err: err}
		}
		return nil
	}
	err = fn(tok)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &portal.UpstreamError{Portal: f.Portal, Action: action, Err: err}
	}
	log.Printf("portal %s: %s failed, retrying with new session: %v", f.Portal, action, err)
	tok, rerr := f.Sessions.Refresh(ctx, tok)
	if rerr != nil {
		return asAuthError(f.Portal, rerr)
	}
	if err := fn(tok); err != nil {
		return &portal.UpstreamError{Portal: f.Portal, Action: action, Err: err}
	}
	return nil
}

func asAuthError(name string, err error) error {
	var ae *portal.AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &portal.AuthError{Portal: name, Err: err}
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// cached serves key from f.Store while fresh, else calls load and stores the result.
// Cache failures are logged and never fail the fetch.
func cached[T any](ctx context.Context, f *Fetcher, key string, load func(context.Context) (T, error)) (T, error) {
	if f.Store == nil || f.TTL <= 0 {
		return load(ctx)
	}
	if e, ok, err := f.Store.Get(ctx, key); err != nil {
		log.Printf("portal %s: cache read %s: %v", f.Portal, key, err)
	} else if ok && e.Fresh(f.now()) {
		var v T
		if err := json.Unmarshal(e.Value, &v); err == nil {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("portal %s: cache encode %s: %v", f.Portal, key, err)
		return v, nil
	}
	if err := f.Store.Set(ctx, key, cache.Entry{Value: b, ExpiresAt: f.now().Add(f.TTL)}); err != nil {
		log.Printf("portal %s: cache write %s: %v", f.Portal, key, err)
	}
	return v, nil
}
