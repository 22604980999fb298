package annotator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pinpoint/internal/browser"
	"github.com/hazyhaar/pinpoint/screenshot"
	"github.com/hazyhaar/pinpoint/upload"
)

// Config is the top-level pinpoint configuration.
type Config struct {
	Page       PageConfig         `yaml:"page"`
	Browser    browser.Config     `yaml:"browser"`
	Tracker    TrackerConfig      `yaml:"tracker"`
	Screenshot screenshot.Options `yaml:"screenshot"`
	Store      StoreConfig        `yaml:"store"`
	Upload     upload.Config      `yaml:"upload"`
	HTTP       HTTPConfig         `yaml:"http"`
}

// PageConfig names the page a session annotates: a live URL opened in
// Chrome, or a captured snapshot file.
type PageConfig struct {
	URL      string `yaml:"url"`
	Snapshot string `yaml:"snapshot"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	// SourceID identifies this client on stored annotations.
	SourceID string `yaml:"source_id"`
}

// TrackerConfig controls position recomputation and where batches go.
type TrackerConfig struct {
	Strict          bool          `yaml:"strict"`
	HideStale       bool          `yaml:"hide_stale"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
	EditorSelectors []string      `yaml:"editor_selectors"`
	Stdout          bool          `yaml:"stdout"`
	Webhook         string        `yaml:"webhook"`
}

// StoreConfig locates the annotation database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	MaxBody int64  `yaml:"max_body"`
	// MCPPath mounts the MCP tools over streamable HTTP. Empty disables it.
	MCPPath string `yaml:"mcp_path"`
}

func (c *Config) defaults() {
	if c.Page.Width <= 0 {
		c.Page.Width = 1280
	}
	if c.Page.Height <= 0 {
		c.Page.Height = 800
	}
	if c.Tracker.PollInterval <= 0 {
		c.Tracker.PollInterval = 500 * time.Millisecond
	}
	if c.Tracker.DebounceWindow <= 0 {
		c.Tracker.DebounceWindow = 16 * time.Millisecond
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/pinpoint.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8087"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 16 << 20
	}
}

// DefaultConfig is the configuration used without a file.
func DefaultConfig() *Config {
	var c Config
	c.defaults()
	return &c
}

// LoadConfig reads the YAML file at path (optional: "" skips it), loads a
// .env file when present, then applies PINPOINT_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("annotator: config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("annotator: config %s: %w", path, err)
		}
	}
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.defaults()
	return &cfg, nil
}

// applyEnv overrides fields from PINPOINT_* variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv("PINPOINT_" + key)); v != "" {
			*dst = v
		}
	}
	str("PAGE_URL", &c.Page.URL)
	str("PAGE_SNAPSHOT", &c.Page.Snapshot)
	str("SOURCE_ID", &c.Page.SourceID)
	str("BROWSER_REMOTE_URL", &c.Browser.RemoteURL)
	str("BROWSER_BIN", &c.Browser.Bin)
	str("TRACKER_WEBHOOK", &c.Tracker.Webhook)
	str("STORE_PATH", &c.Store.Path)
	str("UPLOAD_BACKEND", &c.Upload.Backend)
	str("UPLOAD_ENDPOINT", &c.Upload.Endpoint)
	str("UPLOAD_REGION", &c.Upload.Region)
	str("UPLOAD_BUCKET", &c.Upload.Bucket)
	str("UPLOAD_ACCESS_KEY", &c.Upload.AccessKey)
	str("UPLOAD_SECRET_KEY", &c.Upload.SecretKey)
	str("UPLOAD_PUBLIC_URL", &c.Upload.PublicURL)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("HTTP_MCP_PATH", &c.HTTP.MCPPath)

	if v := getenv("PINPOINT_BROWSER_MODE"); v != "" {
		if err := c.Browser.Mode.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("annotator: PINPOINT_BROWSER_MODE: %w", err)
		}
	}
	for key, dst := range map[string]*bool{
		"TRACKER_STRICT":     &c.Tracker.Strict,
		"TRACKER_HIDE_STALE": &c.Tracker.HideStale,
		"UPLOAD_USE_SSL":     &c.Upload.UseSSL,
	} {
		v := getenv("PINPOINT_" + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("annotator: PINPOINT_%s: %w", key, err)
		}
		*dst = b
	}
	if v := getenv("PINPOINT_TRACKER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("annotator: PINPOINT_TRACKER_POLL_INTERVAL: %w", err)
		}
		c.Tracker.PollInterval = d
	}
	return nil
}
