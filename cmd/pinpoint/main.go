// Command pinpoint runs annotation sessions against a live page or a
// captured snapshot, and manages the stored annotations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pinpoint/annotator"
)

const version = "0.1.0"

type globalFlags struct {
	config   string
	logLevel string
	url      string
	snapshot string
	store    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pinpoint:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "pinpoint",
		Short:         "Anchor annotations to page content and keep them positioned",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := parseLevel(g.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})))
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&g.url, "url", "", "page to open in Chrome (overrides page.url)")
	pf.StringVar(&g.snapshot, "snapshot", "", "captured page file (overrides page.snapshot)")
	pf.StringVar(&g.store, "store", "", "annotation database (overrides store.path)")

	root.AddCommand(
		newServeCmd(g),
		newMCPCmd(g),
		newResolveCmd(g),
		newScreenshotCmd(g),
		newEncodeCmd(g),
		newDecodeCmd(g),
		newAnnotationsCmd(g),
	)
	return root
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// loadConfig reads the configuration and applies the command-line
// overrides on top.
func (g *globalFlags) loadConfig() (*annotator.Config, error) {
	cfg, err := annotator.LoadConfig(g.config)
	if err != nil {
		return nil, err
	}
	if g.url != "" {
		cfg.Page.URL = g.url
		cfg.Page.Snapshot = ""
	}
	if g.snapshot != "" {
		cfg.Page.Snapshot = g.snapshot
		cfg.Page.URL = ""
	}
	if g.store != "" {
		cfg.Store.Path = g.store
	}
	return cfg, nil
}

// start opens a runtime for one-shot commands.
func (g *globalFlags) start(ctx context.Context) (*annotator.Runtime, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return annotator.Start(ctx, cfg, slog.Default())
}
