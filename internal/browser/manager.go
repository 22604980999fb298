// Package browser owns the Chrome process behind live pages: it launches
// or connects to Chrome through Rod, watches its heap, and recycles it on a
// memory threshold or a lifetime limit.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode selects how pages are driven.
type Mode int

const (
	// ModeHeadless runs headless Chrome with stealth patches.
	ModeHeadless Mode = iota
	// ModeHeadful runs a visible Chrome on an Xvfb display.
	ModeHeadful
	// ModePlain runs headless Chrome without stealth patches.
	ModePlain
)

var modeNames = map[Mode]string{ModeHeadless: "headless", ModeHeadful: "headful", ModePlain: "plain"}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// UnmarshalText accepts the names used in configuration files.
func (m *Mode) UnmarshalText(b []byte) error {
	for mode, name := range modeNames {
		if string(b) == name {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("browser: unknown mode %q", b)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ErrClosed is returned once the Manager is closed.
var ErrClosed = errors.New("browser: manager closed")

// Config configures a Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	RemoteURL string `yaml:"remote_url"`
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string `yaml:"bin"`

	// MemoryLimit triggers a recycle when the JS heap exceeds it. Default: 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`
	// RecycleInterval bounds the lifetime of one Chrome process. Default: 4h.
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	// Block lists resource types never loaded: images, fonts, media,
	// stylesheets, or raw CDP types.
	Block []string `yaml:"block"`

	Mode Mode `yaml:"mode"`
	// Display for ModeHeadful. Default: ":99".
	Display string `yaml:"display"`

	// NavigationTimeout bounds Open. Default: 30s.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Display == "" {
		c.Display = ":99"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process at a time.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	xvfb      *exec.Cmd
	startedAt time.Time
	closed    bool
	onRecycle []func(*rod.Browser)
}

// NewManager creates a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers fn to run with the new browser after every recycle.
// Pages opened on the old browser are gone by then.
func (m *Manager) OnRecycle(fn func(*rod.Browser)) {
	m.mu.Lock()
	m.onRecycle = append(m.onRecycle, fn)
	m.mu.Unlock()
}

// hooksLocked snapshots the recycle hooks so they run without m.mu held.
func (m *Manager) hooksLocked() []func(*rod.Browser) {
	return slices.Clone(m.onRecycle)
}

// Start launches or connects to Chrome and starts the health monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b, err := m.connect()
	if err != nil {
		return err
	}
	m.browser = b
	m.startedAt = time.Now()
	go m.monitor(ctx)
	return nil
}

// Browser returns the current browser, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle replaces the Chrome process.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startedAt))
	m.shutdown()
	b, err := m.connect()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: reconnect: %w", err)
	}
	m.browser = b
	m.startedAt = time.Now()
	hooks := m.hooksLocked()
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(b)
	}
	return nil
}

// Close stops Chrome and Xvfb. The Manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.shutdown()
	return nil
}

func (m *Manager) connect() (*rod.Browser, error) {
	log := m.cfg.Logger
	if m.cfg.Mode == ModeHeadful {
		if err := m.startXvfb(5 * time.Second); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	controlURL := m.cfg.RemoteURL
	if controlURL == "" {
		l := launcher.New().
			Headless(m.cfg.Mode != ModeHeadful).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Mode == ModeHeadful {
			l = l.Env("DISPLAY", m.cfg.Display)
		}
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
		m.launcher = l
		log.Info("browser: chrome launched", "url", controlURL, "mode", m.cfg.Mode)
	} else {
		log.Info("browser: using remote chrome", "url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors", "error", err)
	}
	return b, nil
}

func (m *Manager) shutdown() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	log := m.cfg.Logger
	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		m.mu.RLock()
		b, closed, age := m.browser, m.closed, time.Since(m.startedAt)
		m.mu.RUnlock()
		if closed || b == nil {
			return
		}

		reason := ""
		if age > m.cfg.RecycleInterval {
			reason = "lifetime"
		} else if used, err := heapUsed(b); err != nil {
			log.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			reason = "memory"
			log.Info("browser: heap over limit", "used", used, "limit", m.cfg.MemoryLimit)
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(); err != nil {
			log.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsed reads the JS heap of the first open page.
func heapUsed(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no open page")
	}
	res, err := pages[0].Eval(`() => (performance.memory ? performance.memory.usedJSHeapSize : 0)`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
