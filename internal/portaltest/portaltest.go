// Package portaltest runs a fake Stalker portal for tests.
package portaltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/snapetech/stalkerm3u/internal/config"
)

// Channel is the wire shape served by get_all_channels.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Logo    string `json:"logo"`
	GenreID string `json:"tv_genre_id"`
	Cmd     string `json:"cmd"`
}

// Genre is the wire shape served by get_genres.
type Genre struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Server is a fake load.php. Configure the exported fields through New or Set;
// they are read under the server lock.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	Tokens          []string // tokens handed out by successive fresh handshakes; default "tok1","tok2",...
	NoToken         bool     // handshake answers without a token
	RotateOnConfirm bool     // confirmation handshake answers with token+"-c" instead of echoing
	Channels        []Channel
	Genres          []Genre
	Link            string // create_link js.cmd; "" = portal refuses
	BodyPrefix      string // junk written before every JSON body
	FailChannels    int    // first N get_all_channels calls answer without js.data
	FailGenres      int    // first N get_genres calls answer HTTP 500
	FailHandshakes  int    // first N handshakes answer HTTP 502

	calls     map[string]int
	handshake int
	live      map[string]bool // tokens activated by get_profile
	lastReq   map[string]*http.Request
	linkCmds  []string
}

// New starts a fake portal after applying configure. Close it with s.Close().
func New(configure ...func(s *Server)) *Server {
	s := &Server{
		calls:   make(map[string]int),
		live:    make(map[string]bool),
		lastReq: make(map[string]*http.Request),
	}
	for _, fn := range configure {
		fn(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Portal returns a deployment config pointing at the fake server.
func (s *Server) Portal(name string) config.Portal {
	return config.Portal{
		Name:             name,
		Route:            "/" + name,
		URL:              s.URL + "/stalker_portal/c/",
		Scheme:           "http",
		MAC:              "00:1A:79:00:13:DA",
		SerialNumber:     "8DC34D20E1021",
		DeviceID:         "04AAC14D",
		DeviceID2:        "04AAC14D",
		APISignature:     "263",
		Timezone:         "GMT",
		UserAgent:        config.DefaultUserAgent,
		XUserAgent:       config.DefaultXUserAgent,
		ConfirmHandshake: true,
		ResolveStrategy:  config.ResolveLookup,
		CmdPrefix:        config.DefaultCmdPrefix,
		FallbackLogo:     config.DefaultFallbackLogo,
		PlaylistFilename: "playlist.m3u",
	}
}

// Calls returns how many times action was hit.
func (s *Server) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// LastRequest returns the most recent request for action (nil if none).
func (s *Server) LastRequest(action string) *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq[action]
}

// LinkCmds returns the cmd values create_link was called with.
func (s *Server) LinkCmds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.linkCmds...)
}

// Set runs fn under the server lock, for changing behaviour mid-test.
func (s *Server) Set(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/stalker_portal/server/load.php" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	action := q.Get("action")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[action]++
	s.lastReq[action] = r.Clone(r.Context())
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch action {
	case "handshake":
		if s.FailHandshakes > 0 {
			s.FailHandshakes--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		tok := q.Get("token")
		if s.NoToken {
			s.writeJS(w, map[string]string{"token": ""})
			return
		}
		if tok == "" {
			tok = s.nextToken()
		} else if s.RotateOnConfirm {
			tok += "-c"
		}
		s.writeJS(w, map[string]string{"token": tok})
	case "get_profile":
		if bearer != "" {
			s.live[bearer] = true
		}
		s.writeJS(w, map[string]any{"id": "1", "status": 0})
	case "get_all_channels":
		if s.FailChannels > 0 || !s.live[bearer] {
			if s.FailChannels > 0 {
				s.FailChannels--
			}
			s.writeRaw(w, `{"js":[]}`)
			return
		}
		chs := s.Channels
		if chs == nil {
			chs = []Channel{}
		}
		s.writeJS(w, map[string]any{"total_items": len(chs), "data": chs})
	case "get_genres":
		if s.FailGenres > 0 {
			s.FailGenres--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.writeJS(w, s.Genres)
	case "create_link":
		s.linkCmds = append(s.linkCmds, q.Get("cmd"))
		if s.Link == "" {
			s.writeJS(w, map[string]string{"cmd": ""})
			return
		}
		s.writeJS(w, map[string]string{"id": "1", "cmd": s.Link})
	default:
		s.writeRaw(w, `{"js":false}`)
	}
}

func (s *Server) nextToken() string {
	s.handshake++
	if s.handshake <= len(s.Tokens) {
		return s.Tokens[s.handshake-1]
	}
	return "tok" + strconv.Itoa(s.handshake)
}

func (s *Server) writeJS(w http.ResponseWriter, js any) {
	b, _ := json.Marshal(map[string]any{"js": js})
	s.writeRaw(w, string(b))
}

func (s *Server) writeRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/javascript")
	_, _ = w.Write([]byte(s.BodyPrefix + body))
}
