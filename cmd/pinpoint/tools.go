package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/annotator"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newResolveCmd(g *globalFlags) *cobra.Command {
	var (
		loc    string
		x, y   float64
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print where an annotation location would be drawn on the page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := location.Parse([]byte(loc))
			if err != nil {
				return fmt.Errorf("--location: %w", err)
			}
			ann := annotation.Annotation{ID: "cli", Location: l, CoordsRelativeToTarget: annotation.Point{X: x, Y: y}}
			if err := ann.Validate(); err != nil {
				return err
			}
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			pos := rt.Session.Resolve(cmd.Context(), ann, strict)
			pos.AnnotationID = ann.ID
			return printJSON(cmd.OutOrStdout(), pos)
		},
	}
	f := cmd.Flags()
	f.StringVar(&loc, "location", "", `annotation location, e.g. '{"page":"/dash"}'`)
	f.Float64Var(&x, "x", 0.5, "horizontal position inside the target, 0..1")
	f.Float64Var(&y, "y", 0.5, "vertical position inside the target, 0..1")
	f.BoolVar(&strict, "strict", false, "accept exact matches only")
	cmd.MarkFlagRequired("location")
	return cmd
}

func newScreenshotCmd(g *globalFlags) *cobra.Command {
	var (
		out     string
		x, y    float64
		pin     bool
		blurred bool
		id      string
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Screenshot the page, optionally with a pin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			req := annotator.ScreenshotRequest{AnnotationID: id, Blurred: blurred}
			if pin {
				req.Point = &dom.Point{X: x, Y: y}
			}
			res, err := rt.Session.Screenshot(cmd.Context(), req)
			if err != nil {
				return err
			}
			if out != "" {
				png, err := decodeDataURL(res.URL)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, png, 0o644); err != nil {
					return err
				}
				res.URL = out
				res.BlurredURL = ""
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", "write the PNG here instead of uploading it")
	f.BoolVar(&pin, "pin", false, "draw a pin at --x,--y")
	f.Float64Var(&x, "x", 0, "pin x in viewport pixels")
	f.Float64Var(&y, "y", 0, "pin y in viewport pixels")
	f.BoolVar(&blurred, "blurred", false, "also produce a blurred version")
	f.StringVar(&id, "id", "", "name of the uploaded objects")
	return cmd
}

// decodeDataURL extracts the payload of a base64 PNG data URL.
func decodeDataURL(u string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(u, prefix) {
		return nil, errors.New("--out needs upload.backend to be empty")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
}

func newEncodeCmd(g *globalFlags) *cobra.Command {
	var x, y float64
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a viewport point into a layout-independent string",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			v, err := rt.Session.EncodeCoordinates(dom.Point{X: x, Y: y})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "viewport x")
	cmd.Flags().Float64Var(&y, "y", 0, "viewport y")
	return cmd
}

func newDecodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decode VALUE",
		Short: "Decode an encoded point against the current page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			p, err := rt.Session.DecodeCoordinates(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}
