package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/store"
)

func newAnnotationsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "annotations",
		Aliases: []string{"ann"},
		Short:   "Inspect and manage stored annotations",
	}
	cmd.AddCommand(newListCmd(g), newCommitCmd(g), newDeleteCmd(g))
	return cmd
}

// openStore opens the annotation database without starting a page.
func (g *globalFlags) openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Store.Path, slog.Default())
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		f   store.Filter
		loc string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List annotations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loc != "" {
				l, err := location.Parse([]byte(loc))
				if err != nil {
					return fmt.Errorf("--location: %w", err)
				}
				f.Location = l
			}
			st, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []store.Record{}
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&loc, "location", "", "keep annotations whose location contains these keys")
	fl.StringVar(&f.SourceID, "source", "", "source id")
	fl.StringVar(&f.ThreadID, "thread", "", "thread id")
	fl.BoolVar(&f.CommittedOnly, "committed", false, "committed annotations only")
	fl.IntVar(&f.Limit, "limit", 0, "maximum number of results")
	return cmd
}

func newCommitCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "commit ID",
		Short: "Commit a draft annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.Commit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete annotations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
			}
			return nil
		},
	}
}
