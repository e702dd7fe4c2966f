package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolve strategies for turning an inbound ?id= into a portal cmd.
const (
	ResolveLookup = "lookup" // find the channel in get_all_channels; 404 when absent
	ResolveDirect = "direct" // synthesize /ch/<id> without touching the catalog
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG250 stbapp ver:2 rev:250 Safari/533.3"
	DefaultXUserAgent   = "Model: MAG250; Link: WiFi"
	DefaultCmdPrefix    = "ffrt http://localhost/ch/"
	DefaultFallbackLogo = "https://i.ibb.co/gLsp7Vrz/x.jpg"
)

// Config holds process settings plus one Portal per served deployment.
type Config struct {
	Addr            string        // listen address for serve
	CacheDB         string        // sqlite path for the token/catalog cache; "" = in-memory
	HTTPTimeout     time.Duration // per upstream request
	DeploymentsFile string        // optional YAML with deployments: [...]
	Deployments     []Portal
}

// Portal describes one upstream Stalker portal and how it is exposed.
// Zero-valued fields in a deployments file inherit the STALKER_* environment defaults.
type Portal struct {
	Name  string `yaml:"name"`
	Route string `yaml:"route"` // path this deployment is served on, e.g. /api/fusion4k

	URL    string `yaml:"url"`    // e.g. https://tatatv.cc/stalker_portal/c/
	Scheme string `yaml:"scheme"` // scheme used for API calls (the portal URL's own scheme is often wrong)

	MAC          string `yaml:"mac"`
	SerialNumber string `yaml:"sn"`
	DeviceID     string `yaml:"device_id"`
	DeviceID2    string `yaml:"device_id2"`
	Signature    string `yaml:"signature"`
	APISignature string `yaml:"api_signature"`
	Timezone     string `yaml:"timezone"`
	UserAgent    string `yaml:"user_agent"`
	XUserAgent   string `yaml:"x_user_agent"`

	TokenTTL         time.Duration `yaml:"token_ttl"`
	CatalogTTL       time.Duration `yaml:"catalog_ttl"` // 0 = fetch the catalog on every request
	ConfirmHandshake bool          `yaml:"confirm_handshake"`
	UpstreamRPS      float64       `yaml:"upstream_rps"` // 0 = unlimited

	ResolveStrategy  string `yaml:"resolve_strategy"`
	CmdPrefix        string `yaml:"cmd_prefix"`
	FallbackLogo     string `yaml:"fallback_logo"`
	PlaylistFilename string `yaml:"playlist_filename"`
	PublicBaseURL    string `yaml:"public_base_url"` // overrides the request-derived play URL base
	Debug            bool   `yaml:"debug"`           // allow ?debug=1 JSON previews
}

// Load reads config from environment. Call LoadEnvFile(".env") first to use a .env file.
// When STALKER_DEPLOYMENTS_FILE is set, deployments come from that file (env values act as defaults);
// otherwise a single deployment is built from STALKER_* variables.
func Load() (*Config, error) {
	c := &Config{
		Addr:            getEnv("STALKER_ADDR", ":8080"),
		CacheDB:         os.Getenv("STALKER_CACHE_DB"),
		HTTPTimeout:     getEnvDuration("STALKER_HTTP_TIMEOUT", 20*time.Second),
		DeploymentsFile: os.Getenv("STALKER_DEPLOYMENTS_FILE"),
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 20 * time.Second
	}
	defaults := portalFromEnv()
	if c.DeploymentsFile == "" {
		c.Deployments = []Portal{defaults}
		return c, nil
	}
	deps, err := LoadDeployments(c.DeploymentsFile, defaults)
	if err != nil {
		return nil, err
	}
	c.Deployments = deps
	return c, nil
}

func portalFromEnv() Portal {
	p := Portal{
		Name:             getEnv("STALKER_NAME", "portal"),
		Route:            getEnv("STALKER_ROUTE", "/playlist.m3u"),
		URL:              os.Getenv("STALKER_PORTAL_URL"),
		Scheme:           getEnv("STALKER_SCHEME", "https"),
		MAC:              os.Getenv("STALKER_MAC"),
		SerialNumber:     os.Getenv("STALKER_SN"),
		DeviceID:         os.Getenv("STALKER_DEVICE_ID"),
		DeviceID2:        os.Getenv("STALKER_DEVICE_ID2"),
		Signature:        os.Getenv("STALKER_SIGNATURE"),
		APISignature:     getEnv("STALKER_API_SIGNATURE", "263"),
		Timezone:         getEnv("STALKER_TIMEZONE", "GMT"),
		UserAgent:        getEnv("STALKER_USER_AGENT", DefaultUserAgent),
		XUserAgent:       getEnv("STALKER_X_USER_AGENT", DefaultXUserAgent),
		TokenTTL:         getEnvDuration("STALKER_TOKEN_TTL", 10*time.Minute),
		CatalogTTL:       getEnvDuration("STALKER_CATALOG_TTL", 10*time.Minute),
		ConfirmHandshake: getEnvBool("STALKER_CONFIRM_HANDSHAKE", true),
		UpstreamRPS:      getEnvFloat("STALKER_UPSTREAM_RPS", 5),
		ResolveStrategy:  strings.ToLower(getEnv("STALKER_RESOLVE_STRATEGY", ResolveLookup)),
		CmdPrefix:        getEnv("STALKER_CMD_PREFIX", DefaultCmdPrefix),
		FallbackLogo:     getEnv("STALKER_FALLBACK_LOGO", DefaultFallbackLogo),
		PlaylistFilename: getEnv("STALKER_PLAYLIST_FILENAME", "playlist.m3u"),
		PublicBaseURL:    os.Getenv("STALKER_PUBLIC_BASE_URL"),
		Debug:            getEnvBool("STALKER_DEBUG", false),
	}
	if p.DeviceID2 == "" {
		p.DeviceID2 = p.DeviceID
	}
	return p
}

// LoadDeployments reads a YAML deployments file. Each entry starts as a copy of defaults
// (minus name and route) so a file only needs the fields that differ per portal.
func LoadDeployments(path string, defaults Portal) ([]Portal, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read deployments: %w", err)
	}
	var doc struct {
		Deployments []yaml.Node `yaml:"deployments"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse deployments yaml: %w", err)
	}
	if len(doc.Deployments) == 0 {
		return nil, fmt.Errorf("deployments file %s: no deployments", path)
	}
	out := make([]Portal, 0, len(doc.Deployments))
	for i := range doc.Deployments {
		p := defaults
		p.Name, p.Route, p.DeviceID2 = "", "", ""
		if err := doc.Deployments[i].Decode(&p); err != nil {
			return nil, fmt.Errorf("deployment %d: %w", i, err)
		}
		if p.Name == "" {
			p.Name = "portal" + strconv.Itoa(i)
		}
		if p.Route == "" {
			p.Route = "/" + p.Name
		}
		if p.DeviceID2 == "" {
			p.DeviceID2 = p.DeviceID
		}
		p.ResolveStrategy = strings.ToLower(p.ResolveStrategy)
		out = append(out, p)
	}
	return out, nil
}

// Validate reports the first configuration problem that would make serving impossible.
func (c *Config) Validate() error {
	if len(c.Deployments) == 0 {
		return fmt.Errorf("no deployments configured")
	}
	routes := make(map[string]string, len(c.Deployments))
	for _, p := range c.Deployments {
		if err := p.Validate(); err != nil {
			return err
		}
		if other, dup := routes[p.Route]; dup {
			return fmt.Errorf("deployments %q and %q share route %s", other, p.Name, p.Route)
		}
		routes[p.Route] = p.Name
	}
	return nil
}

// Validate checks a single deployment.
func (p Portal) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("%s: portal url is required (STALKER_PORTAL_URL)", p.Name)
	}
	if p.Host() == "" {
		return fmt.Errorf("%s: portal url %q has no host", p.Name, p.URL)
	}
	if p.MAC == "" {
		return fmt.Errorf("%s: mac is required (STALKER_MAC)", p.Name)
	}
	if !strings.HasPrefix(p.Route, "/") {
		return fmt.Errorf("%s: route %q must start with /", p.Name, p.Route)
	}
	if p.Route == "/healthz" || p.Route == "/metrics" {
		return fmt.Errorf("%s: route %s is reserved", p.Name, p.Route)
	}
	switch p.ResolveStrategy {
	case ResolveLookup, ResolveDirect:
	default:
		return fmt.Errorf("%s: unknown resolve strategy %q (want %s or %s)", p.Name, p.ResolveStrategy, ResolveLookup, ResolveDirect)
	}
	return nil
}

// Host returns the portal host[:port] from URL.
func (p Portal) Host() string {
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil {
		return ""
	}
	return u.Host
}

// Origin is scheme://host used for every API and asset URL.
func (p Portal) Origin() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + p.Host()
}

// APIURL is the load.php endpoint all type/action calls go through.
func (p Portal) APIURL() string { return p.Origin() + "/stalker_portal/server/load.php" }

// Referer mimics the STB web client page.
func (p Portal) Referer() string { return p.Origin() + "/stalker_portal/c/" }

// LogoBase is the prefix for channel logo filenames.
func (p Portal) LogoBase() string { return p.Origin() + "/stalker_portal/misc/logos/320/" }

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
