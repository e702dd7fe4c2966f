package httpclient

import (
	"net/url"
	"sync"
)

// HostSemaphore limits in-flight requests per upstream host. Portals throttle or
// ban a MAC that opens many parallel connections, and one process may serve several
// deployments pointing at the same host.
//
//	release := GlobalHostSem.Acquire(apiURL)
//	defer release()
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

// GlobalHostSem is shared by every portal client in the process.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{
		sems:  make(map[string]chan struct{}),
		limit: concurrency,
	}
}

// Acquire blocks until a slot is free for the host of rawURL and returns the release func.
// A nil semaphore never blocks.
func (h *HostSemaphore) Acquire(rawURL string) func() {
	if h == nil {
		return func() {}
	}
	sem := h.semFor(hostKey(rawURL))
	sem <- struct{}{}
	return func() { <-sem }
}

func hostKey(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return rawURL
}

func (h *HostSemaphore) semFor(key string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sems[key]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[key] = s
	}
	return s
}
