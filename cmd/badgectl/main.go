// Command badgectl renders a badge from a local photo without the HTTP API.
//
//	badgectl -photo me.jpg -name Ada -email ada@example.com -company X \
//	    -designation Engineer -zoom 1.5 -filters brightness=120,sepia=20 -resolution 5x
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/flow"
	"github.com/dunamismax/badgeflow/internal/id"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

type options struct {
	photo       string
	profile     domain.Profile
	gesture     crop.Gesture
	filters     string
	resolution  string
	resolutions string
	prefix      string
	outDir      string
	qr          string
	list        bool
	debug       bool
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "badgectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	table, err := export.ParseTable(opts.resolutions)
	if err != nil {
		return err
	}
	if opts.list {
		for _, r := range table {
			fmt.Fprintf(stdout, "%s\t%s\tx%d\n", r.Label, r.Name, r.Multiplier)
		}
		return nil
	}

	logger := logging.Discard()
	if opts.debug {
		logger = logging.New("badgectl", "debug", "text")
		logger.SetOutput(stderr)
	}

	file, err := render(ctx, opts, table, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(opts.outDir, file.Name)
	if err := os.WriteFile(path, file.PNG, 0o644); err != nil {
		return fmt.Errorf("write badge: %w", err)
	}
	fmt.Fprintf(stdout, "%s %dx%d\n", path, file.Width, file.Height)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("badgectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.photo, "photo", "", "path to a .jpg, .jpeg, .png or .svg photo")
	fs.StringVar(&opts.profile.Name, "name", "", "attendee name")
	fs.StringVar(&opts.profile.Email, "email", "", "attendee email")
	fs.StringVar(&opts.profile.Company, "company", "", "attendee company")
	fs.StringVar(&opts.profile.Designation, "designation", "", "attendee designation")
	fs.Float64Var(&opts.gesture.OffsetX, "offset-x", 0, "horizontal crop centre offset in [-0.5,0.5]")
	fs.Float64Var(&opts.gesture.OffsetY, "offset-y", 0, "vertical crop centre offset in [-0.5,0.5]")
	fs.Float64Var(&opts.gesture.Zoom, "zoom", 1, "crop zoom in [1,4]")
	fs.StringVar(&opts.filters, "filters", "", "comma separated field=value adjustments, e.g. brightness=120,hue=-30")
	fs.StringVar(&opts.resolution, "resolution", export.DefaultLabel, "export resolution label or name")
	fs.StringVar(&opts.resolutions, "resolutions", "1x:1:Low,2x:3:Medium,3x:5:High,5x:8:Ultra", "resolution table as label:multiplier:name entries")
	fs.StringVar(&opts.prefix, "prefix", export.DefaultPrefix, "file name prefix")
	fs.StringVar(&opts.outDir, "out", ".", "output directory")
	fs.StringVar(&opts.qr, "qr", "", "text encoded in the badge QR code")
	fs.BoolVar(&opts.list, "list", false, "list resolutions and exit")
	fs.BoolVar(&opts.debug, "debug", false, "log pipeline steps to stderr")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if !opts.list && opts.photo == "" {
		return options{}, errors.New("-photo is required")
	}
	return opts, nil
}

// render walks a session through upload, edit and preview, then exports.
func render(ctx context.Context, opts options, table export.Table, logger logrus.FieldLogger) (export.File, error) {
	data, err := os.ReadFile(opts.photo)
	if err != nil {
		return export.File{}, fmt.Errorf("read photo: %w", err)
	}
	adjustments, err := parseFilters(opts.filters)
	if err != nil {
		return export.File{}, err
	}

	decoder, err := pipeline.NewDecoder()
	if err != nil {
		return export.File{}, err
	}
	renderer := badge.NewRenderer(badge.Options{QRContent: opts.qr})
	c := flow.NewController(id.New(id.PrefixSession), flow.Deps{
		Decoder:    decoder,
		Compositor: pipeline.NewCompositor(decoder, 1),
		Renderer:   renderer,
		Exporter:   export.New(renderer, nil, export.Options{Table: table, Prefix: opts.prefix, Logger: logger}),
		Logger:     logger,
	})

	if _, err := c.SetProfile(opts.profile); err != nil {
		return export.File{}, err
	}
	if _, err := c.Upload(ctx, data, pipeline.TypeForFilename(opts.photo)); err != nil {
		return export.File{}, err
	}
	if _, err := c.Next(ctx); err != nil {
		return export.File{}, err
	}
	if _, err := c.SetGesture(opts.gesture); err != nil {
		return export.File{}, err
	}
	for _, adj := range adjustments {
		if _, err := c.SetFilter(adj.field, adj.value); err != nil {
			return export.File{}, err
		}
	}
	if _, err := c.Next(ctx); err != nil {
		return export.File{}, err
	}
	return c.Export(ctx, opts.resolution)
}

type adjustment struct {
	field filter.Field
	value int
}

func parseFilters(raw string) ([]adjustment, error) {
	var out []adjustment
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("filter %q: expected field=value", entry)
		}
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", entry, err)
		}
		out = append(out, adjustment{field: filter.Field(strings.ToLower(strings.TrimSpace(name))), value: v})
	}
	return out, nil
}
