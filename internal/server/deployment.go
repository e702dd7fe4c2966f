package server

import (
	"net/http"

	"github.com/snapetech/stalkerm3u/internal/cache"
	"github.com/snapetech/stalkerm3u/internal/config"
	"github.com/snapetech/stalkerm3u/internal/handler"
	"github.com/snapetech/stalkerm3u/internal/indexer"
	"github.com/snapetech/stalkerm3u/internal/metrics"
	"github.com/snapetech/stalkerm3u/internal/portal"
	"github.com/snapetech/stalkerm3u/internal/session"
)

// Deployment is one portal wired end to end. The CLI uses the parts directly;
// Server mounts Handler on Portal.Route.
type Deployment struct {
	Portal   config.Portal
	Client   *portal.Client
	Sessions *session.Manager
	Fetcher  *indexer.Fetcher
	Handler  *handler.Handler
}

// NewDeployment builds the client, session manager, fetcher and handler for p.
// Sessions and catalog snapshots share store; hc nil = httpclient.ForPortal.
func NewDeployment(p config.Portal, store cache.Store, hc *http.Client, m *metrics.Metrics) *Deployment {
	if store == nil {
		store = cache.NewMemory()
	}
	client := portal.NewClient(p, hc, m)
	sess := session.New(client, store, p.Name, p.TokenTTL, p.ConfirmHandshake, m)
	f := indexer.New(client, sess, p.Name, store, p.CatalogTTL)
	return &Deployment{
		Portal:   p,
		Client:   client,
		Sessions: sess,
		Fetcher:  f,
		Handler:  handler.New(p, f, m),
	}
}
