package screenshot

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/css/scanner"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Fetcher retrieves the bytes behind an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// HTTPFetcher fetches images over HTTP.
type HTTPFetcher struct {
	Client *http.Client
	// MaxBytes bounds a single image. Default: 10 MiB.
	MaxBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, u string) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ImageLoaderConfig configures an ImageLoader.
type ImageLoaderConfig struct {
	Fetcher Fetcher
	// BaseURL resolves relative references (the page URL).
	BaseURL string
	// CacheSize is the number of data URLs kept. Default: 256.
	CacheSize int
	// Concurrency bounds parallel fetches. Default: 8.
	Concurrency int
	Logger      *slog.Logger
}

func (c *ImageLoaderConfig) defaults() {
	if c.Fetcher == nil {
		c.Fetcher = HTTPFetcher{}
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ImageLoader turns image references into data URLs so that a composed SVG
// carries no external resource. Fetches start as soon as a reference is
// queued and run concurrently with the clone walk. Results are cached
// across screenshots.
type ImageLoader struct {
	fetcher Fetcher
	base    *url.URL
	cache   *lru.Cache[string, string]
	sem     chan struct{}
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*pendingImage
}

type pendingImage struct {
	done    chan struct{}
	dataURL string
	err     error
}

// NewImageLoader creates an ImageLoader.
func NewImageLoader(cfg ImageLoaderConfig) (*ImageLoader, error) {
	cfg.defaults()
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("screenshot: image cache: %w", err)
	}
	l := &ImageLoader{
		fetcher:  cfg.Fetcher,
		cache:    cache,
		sem:      make(chan struct{}, cfg.Concurrency),
		logger:   cfg.Logger,
		inflight: make(map[string]*pendingImage),
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("screenshot: base url: %w", err)
		}
		l.base = base
	}
	return l, nil
}

// Resolve makes ref absolute against the base URL.
func (l *ImageLoader) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if l.base == nil || strings.HasPrefix(ref, "data:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return l.base.ResolveReference(u).String()
}

// Prefetch starts loading ref without waiting.
func (l *ImageLoader) Prefetch(ctx context.Context, ref string) {
	l.start(ctx, ref)
}

// DataURL waits for ref and returns it as a data URL.
func (l *ImageLoader) DataURL(ctx context.Context, ref string) (string, error) {
	p := l.start(ctx, ref)
	select {
	case <-p.done:
		return p.dataURL, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cached reports whether ref is already in the cache.
func (l *ImageLoader) Cached(ref string) bool {
	return l.cache.Contains(l.Resolve(ref))
}

func (l *ImageLoader) start(ctx context.Context, ref string) *pendingImage {
	if strings.HasPrefix(strings.TrimSpace(ref), "data:") {
		return resolved(strings.TrimSpace(ref))
	}
	abs := l.Resolve(ref)
	if v, ok := l.cache.Get(abs); ok {
		return resolved(v)
	}

	l.mu.Lock()
	if p, ok := l.inflight[abs]; ok {
		l.mu.Unlock()
		return p
	}
	p := &pendingImage{done: make(chan struct{})}
	l.inflight[abs] = p
	l.mu.Unlock()

	go func() {
		defer close(p.done)
		defer l.forget(abs)

		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			p.err = ctx.Err()
			return
		}

		data, ct, err := l.fetcher.Fetch(ctx, abs)
		if err != nil {
			p.err = fmt.Errorf("screenshot: load image %s: %w", abs, err)
			l.logger.Debug("screenshot: image load failed", "url", abs, "error", err)
			return
		}
		if ct == "" || ct == "application/octet-stream" {
			ct = http.DetectContentType(data)
		}
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		p.dataURL = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
		l.cache.Add(abs, p.dataURL)
	}()
	return p
}

func (l *ImageLoader) forget(abs string) {
	l.mu.Lock()
	delete(l.inflight, abs)
	l.mu.Unlock()
}

func resolved(v string) *pendingImage {
	p := &pendingImage{done: make(chan struct{}), dataURL: v}
	close(p.done)
	return p
}

// cssURLs extracts the references of url(...) tokens in a CSS value.
func cssURLs(v string) []string {
	var out []string
	sc := scanner.New(v)
	for {
		tok := sc.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return out
		case scanner.TokenURI:
			out = append(out, uriRef(tok.Value))
		}
	}
}

// replaceCSSURLs rewrites url(...) tokens through fn. A value that does not
// tokenize is returned unchanged.
func replaceCSSURLs(v string, fn func(string) string) string {
	var b strings.Builder
	sc := scanner.New(v)
	for {
		tok := sc.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			return b.String()
		case scanner.TokenError:
			return v
		case scanner.TokenURI:
			b.WriteString(`url("` + fn(uriRef(tok.Value)) + `")`)
		default:
			b.WriteString(tok.Value)
		}
	}
}

// uriRef strips url( ) and the optional quotes of a URI token.
func uriRef(tok string) string {
	ref := strings.TrimSpace(tok[len("url(") : len(tok)-1])
	if n := len(ref); n >= 2 && (ref[0] == '"' || ref[0] == '\'') && ref[n-1] == ref[0] {
		ref = ref[1 : n-1]
	}
	return ref
}
