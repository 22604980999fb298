package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
	"github.com/hazyhaar/pinpoint/dom/roddom"
	"github.com/hazyhaar/pinpoint/internal/browser"
	"github.com/hazyhaar/pinpoint/observability"
	"github.com/hazyhaar/pinpoint/screenshot"
	"github.com/hazyhaar/pinpoint/store"
	"github.com/hazyhaar/pinpoint/tracker"
	"github.com/hazyhaar/pinpoint/upload"
)

// Runtime is a Session together with the resources built for it from a
// Config. Close releases them in reverse order.
type Runtime struct {
	Session *Session
	Config  *Config

	closers []func() error
	logger  *slog.Logger
}

// Start builds a Runtime: it opens the page (live in Chrome when
// Page.URL is set, else the snapshot file), the store with its metrics and
// audit tables, the uploader and the screenshotter.
func Start(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		doc     dom.Document
		sources []tracker.Source
		mgr     *browser.Manager
		page    *browser.Page
		err     error
	)
	if cfg.Page.URL != "" || cfg.Browser.RemoteURL != "" {
		bc := cfg.Browser
		bc.Logger = logger
		mgr = browser.NewManager(bc)
		if err := mgr.Start(ctx); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, mgr.Close)
	}

	switch {
	case cfg.Page.URL != "":
		page, err = mgr.Open(ctx, cfg.Page.URL, browser.Viewport{Width: cfg.Page.Width, Height: cfg.Page.Height})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, page.Close)
		live, err := roddom.New(ctx, page.Page, logger)
		if err != nil {
			return nil, err
		}
		doc = live
		sources = append(sources, &roddom.Events{
			Page:            page.Page,
			EditorSelectors: cfg.Tracker.EditorSelectors,
			Logger:          logger,
		})
	case cfg.Page.Snapshot != "":
		f, err := os.Open(cfg.Page.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("annotator: snapshot: %w", err)
		}
		defer f.Close()
		doc, err = htmldom.Parse(f, htmldom.WithViewport(float64(cfg.Page.Width), float64(cfg.Page.Height)))
		if err != nil {
			return nil, fmt.Errorf("annotator: snapshot %s: %w", cfg.Page.Snapshot, err)
		}
	default:
		return nil, errors.New("annotator: page.url or page.snapshot is required")
	}

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, st.Close)

	if err := observability.Init(ctx, st.DB()); err != nil {
		return nil, err
	}
	metrics := observability.NewMetricsManager(st.DB(), 0, 0, logger)
	rt.closers = append(rt.closers, metrics.Close)
	audit := observability.NewAuditLogger(st.DB(), 0, observability.WithAuditLogger(logger))
	rt.closers = append(rt.closers, audit.Close)

	up, err := upload.New(ctx, cfg.Upload, logger)
	if err != nil {
		return nil, err
	}

	var shots *screenshot.Screenshotter
	if mgr != nil {
		images, err := screenshot.NewImageLoader(screenshot.ImageLoaderConfig{BaseURL: cfg.Page.URL, Logger: logger})
		if err != nil {
			return nil, err
		}
		sc := screenshot.Config{
			Options:    cfg.Screenshot,
			Rasterizer: screenshot.RodRasterizer{Browser: mgr},
			Images:     images,
			Logger:     logger,
		}
		if page != nil {
			sc.Frames = screenshot.RodFrameCapturer{Page: page}
		}
		if shots, err = screenshot.New(sc); err != nil {
			return nil, err
		}
	} else {
		logger.Info("annotator: no browser configured, screenshots disabled")
	}

	var sinks []tracker.Sink
	if cfg.Tracker.Stdout {
		sinks = append(sinks, tracker.NewStdout(os.Stdout))
	}
	if cfg.Tracker.Webhook != "" {
		sinks = append(sinks, tracker.NewWebhook(cfg.Tracker.Webhook, tracker.WithWebhookLogger(logger)))
	}

	rt.Session, err = NewSession(SessionConfig{
		Document:       doc,
		Store:          st,
		Uploader:       up,
		Screenshotter:  shots,
		Metrics:        metrics,
		Audit:          audit,
		IncludeBlurred: cfg.Screenshot.IncludeBlurredVersion,
		SourceID:       cfg.Page.SourceID,
		Strict:         cfg.Tracker.Strict,
		HideStale:      cfg.Tracker.HideStale,
		Sources:        sources,
		Sinks:          sinks,
		PollInterval:   cfg.Tracker.PollInterval,
		DebounceWindow: cfg.Tracker.DebounceWindow,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.Session.Close)
	ok = true
	return rt, nil
}

// Serve runs the session tracker and the HTTP API until ctx is done. The
// MCP tools are mounted at HTTP.MCPPath when it is set.
func (rt *Runtime) Serve(ctx context.Context, version string) error {
	h := Handler(rt.Session, rt.Config.HTTP.MaxBody)
	if p := rt.Config.HTTP.MCPPath; p != "" {
		mux := http.NewServeMux()
		mux.Handle(p, MCPHandler(rt.Session, version))
		mux.Handle("/", h)
		h = mux
	}
	srv := &http.Server{
		Addr:              rt.Config.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() { errc <- rt.Session.Run(ctx) }()
	go func() {
		rt.logger.Info("annotator: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			rt.logger.Error("annotator: stopped", "error", err)
			shutdown(srv)
			return err
		}
	}
	shutdown(srv)
	return nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// Close releases every resource, last opened first.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
