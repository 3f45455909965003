package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
	"github.com/sells-group/canlidar/internal/store"
)

// requestHandler runs a command once its arguments are parsed into a Request.
type requestHandler func(cmd *cobra.Command, req query.Request) error

// requestCommands returns the bbox, address and area variants of a command.
// verb starts each Short description.
func requestCommands(verb string, run requestHandler) []*cobra.Command {
	bbox := &cobra.Command{
		Use:   "bbox",
		Short: verb + " for a bounding box in degrees",
		Example: "  canlidar query bbox --bbox=-79.40,43.64,-79.37,43.66\n" +
			"  canlidar query bbox --bbox -123.2,49.2,-123.0,49.3 --year 2018",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vals, _ := cmd.Flags().GetFloat64Slice("bbox")
			if len(vals) != 4 {
				return eris.Errorf("bbox needs 4 values (minx,miny,maxx,maxy), got %d", len(vals))
			}
			return run(cmd, query.Request{Kind: query.KindBBox, BBox: [4]float64(vals)})
		},
	}
	bbox.Flags().Float64Slice("bbox", nil, "minx,miny,maxx,maxy in EPSG:4326")
	_ = bbox.MarkFlagRequired("bbox")

	address := &cobra.Command{
		Use:   "address <text>",
		Short: verb + " around a geocoded address",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			radius, _ := cmd.Flags().GetFloat64("radius")
			return run(cmd, query.Request{
				Kind:     query.KindAddress,
				Address:  strings.Join(args, " "),
				RadiusKM: radius,
			})
		},
	}
	address.Flags().Float64("radius", 1, "half-width of the query square in km")

	area := &cobra.Command{
		Use:   "area <name>",
		Short: verb + " for a named administrative area",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, query.Request{Kind: query.KindArea, Area: strings.Join(args, " ")})
		},
	}

	return []*cobra.Command{bbox, address, area}
}

// targetYear reads --year; zero means "no target".
func targetYear(cmd *cobra.Command) *int {
	y, _ := cmd.Flags().GetInt("year")
	if y == 0 {
		return nil
	}
	return &y
}

// resolveRequest builds the geometry for req, resolves it and records the
// query in the history store when one is configured. A failed save is
// logged; the result is still returned.
func resolveRequest(ctx context.Context, env *appEnv, req query.Request, year *int) (*resolver.QueryResult, *store.Record, error) {
	g, err := query.Build(ctx, req, env.Deps)
	if err != nil {
		return nil, nil, err
	}
	res, err := env.Resolver.Resolve(ctx, g, year)
	if err != nil {
		return nil, nil, err
	}
	if env.Store == nil {
		return res, nil, nil
	}
	rec, err := env.Store.SaveQuery(ctx, req, year, res)
	if err != nil {
		zap.L().Warn("save query history failed", zap.Error(err))
		return res, nil, nil
	}
	return res, rec, nil
}

// reportExpected prints a one-line message for outcomes that are not
// failures (no tiles, unknown address or area) and reports whether err was
// one of them.
func reportExpected(w io.Writer, err error) bool {
	switch {
	case errors.Is(err, resolver.ErrNoMatch):
		fmt.Fprintln(w, "No LiDAR tiles cover this area.")
	case errors.Is(err, query.ErrGeocodeMiss):
		fmt.Fprintln(w, "Address not found.")
	case errors.Is(err, query.ErrUnknownArea):
		fmt.Fprintln(w, "Unknown area name.")
	default:
		return false
	}
	return true
}
