// Package catalog holds the portal's live channel list and genre map as served to clients.
package catalog

import (
	"bytes"
	"encoding/json"
	"strings"
)

// OthersGroup is the group-title for channels whose genre is missing from the genre map.
const OthersGroup = "Others"

// AllGenresID is the portal's pseudo-genre meaning "all categories"; it never enters a Genres map.
const AllGenresID = "*"

// FlexString accepts a JSON string or number. Portals are inconsistent about
// quoting ids ("id":"101" vs "id":101) even within one response.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(b)
	return nil
}

// Channel is one entry of itv/get_all_channels.
type Channel struct {
	ID      FlexString `json:"id"`
	Name    string     `json:"name"`
	Number  FlexString `json:"number,omitempty"`
	Logo    string     `json:"logo"`
	GenreID FlexString `json:"tv_genre_id"`
	Cmd     string     `json:"cmd"` // e.g. "ffrt http://localhost/ch/101"
}

// StreamID is the id clients use in ?id=: the cmd with prefix removed (first occurrence),
// or the channel id when the portal sent no cmd.
func (c Channel) StreamID(prefix string) string {
	cmd := strings.TrimSpace(c.Cmd)
	if cmd == "" {
		return string(c.ID)
	}
	if prefix != "" {
		cmd = strings.Replace(cmd, prefix, "", 1)
	}
	return cmd
}

// Find returns the channel a client-facing id refers to: exact StreamID match first,
// then the portal id, then a cmd ending in /ch/<id>.
func Find(channels []Channel, id, prefix string) (Channel, bool) {
	if id == "" {
		return Channel{}, false
	}
	for _, c := range channels {
		if c.StreamID(prefix) == id {
			return c, true
		}
	}
	for _, c := range channels {
		if string(c.ID) == id {
			return c, true
		}
	}
	suffix := "/ch/" + id
	for _, c := range channels {
		if strings.HasSuffix(strings.TrimSpace(c.Cmd), suffix) {
			return c, true
		}
	}
	return Channel{}, false
}

// DirectCmd synthesizes the portal cmd for id without a catalog lookup.
func DirectCmd(id string) string { return "/ch/" + id }

// Genre is one entry of itv/get_genres.
type Genre struct {
	ID    FlexString `json:"id"`
	Title string     `json:"title"`
}

// Genres maps genre id to display title.
type Genres map[string]string

// NewGenres builds the map, dropping the "*" pseudo-genre.
func NewGenres(list []Genre) Genres {
	g := make(Genres, len(list))
	for _, e := range list {
		id := string(e.ID)
		if id == "" || id == AllGenresID {
			continue
		}
		g[id] = e.Title
	}
	return g
}

// Title returns the group title for genreID, or OthersGroup.
func (g Genres) Title(genreID string) string {
	if t, ok := g[genreID]; ok && t != "" {
		return t
	}
	return OthersGroup
}
