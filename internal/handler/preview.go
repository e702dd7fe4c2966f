package handler

import (
	"github.com/snapetech/stalkerm3u/internal/catalog"
	"github.com/snapetech/stalkerm3u/internal/playlist"
)

const previewLimit = 20

type previewEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
	Logo  string `json:"logo"`
	URL   string `json:"url"`
	Cmd   string `json:"cmd"`
}

type previewBody struct {
	Portal   string         `json:"portal"`
	Channels int            `json:"channels"`
	Genres   int            `json:"genres"`
	Sample   []previewEntry `json:"sample"`
}

// preview is the ?debug=1 answer: catalog counts plus the first entries as they would
// appear in the playlist.
func preview(name string, channels []catalog.Channel, genres catalog.Genres, opt playlist.Options) previewBody {
	out := previewBody{Portal: name, Channels: len(channels), Genres: len(genres), Sample: []previewEntry{}}
	for i, c := range channels {
		if i == previewLimit {
			break
		}
		id := c.StreamID(opt.CmdPrefix)
		out.Sample = append(out.Sample, previewEntry{
			ID:    id,
			Name:  c.Name,
			Group: genres.Title(string(c.GenreID)),
			Logo:  playlist.Logo(c.Logo, opt.LogoBase, opt.FallbackLogo),
			URL:   playlist.PlayURL(opt.BaseURL, id),
			Cmd:   c.Cmd,
		})
	}
	return out
}
