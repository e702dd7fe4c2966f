// Package playlist renders a portal catalog as an extended M3U playlist.
package playlist

import (
	"net/url"
	"strings"
	"time"

	"github.com/snapetech/stalkerm3u/internal/catalog"
)

// DateLayout is the #DATE:- header format (day/month, 12-hour clock).
const DateLayout = "2/1/2006, 3:04:05 pm"

// Options controls URLs written into the playlist.
type Options struct {
	BaseURL      string // play URL base; entries point at BaseURL?id=<id>
	LogoBase     string // prefix for logo filenames, e.g. https://host/stalker_portal/misc/logos/320/
	FallbackLogo string // used when the portal logo is not a .png/.jpg filename
	CmdPrefix    string // stripped from cmd to get the client-facing id
	Now          time.Time
}

// Render returns the playlist: one #EXTINF/URL pair per channel, in catalog order.
func Render(channels []catalog.Channel, genres catalog.Genres, opt Options) string {
	now := opt.Now
	if now.IsZero() {
		now = time.Now()
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n#DATE:- ")
	b.WriteString(now.Format(DateLayout))
	b.WriteString("\n\n")
	for _, c := range channels {
		id := c.StreamID(opt.CmdPrefix)
		b.WriteString(`#EXTINF:-1 tvg-id="`)
		b.WriteString(id)
		b.WriteString(`" tvg-logo="`)
		b.WriteString(Logo(c.Logo, opt.LogoBase, opt.FallbackLogo))
		b.WriteString(`" group-title="`)
		b.WriteString(genres.Title(string(c.GenreID)))
		b.WriteString(`",`)
		b.WriteString(c.Name)
		b.WriteString("\n")
		b.WriteString(PlayURL(opt.BaseURL, id))
		b.WriteString("\n\n")
	}
	return b.String()
}

// PlayURL is base?id=<id>, the URL a player opens to be redirected to the stream.
// The id is escaped like JavaScript's encodeURIComponent: space is %20 and !'()* stay literal.
func PlayURL(base, id string) string {
	return base + "?id=" + componentEscaper.Replace(url.QueryEscape(id))
}

var componentEscaper = strings.NewReplacer("+", "%20", "%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

// Logo returns base+logo for .png/.jpg filenames and fallback for anything else,
// including an empty logo.
func Logo(logo, base, fallback string) string {
	if !strings.HasSuffix(logo, ".png") && !strings.HasSuffix(logo, ".jpg") {
		return fallback
	}
	return base + logo
}
