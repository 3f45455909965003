package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/canlidar/internal/pdal"
	"github.com/sells-group/canlidar/internal/resolver"
	"github.com/sells-group/canlidar/internal/store"
)

// printSummary writes the human-readable query summary.
func printSummary(w io.Writer, res *resolver.QueryResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if res.Address != "" {
		fmt.Fprintf(tw, "Address:\t%s\n", res.Address)
	}
	if res.City != "" {
		fmt.Fprintf(tw, "City:\t%s\n", res.City)
	}
	fmt.Fprintf(tw, "Query area:\t%.2f km²\n", res.QueryAreaKM2)
	fmt.Fprintf(tw, "Bounding box area:\t%.2f km²\n", res.BBoxAreaKM2)
	fmt.Fprintf(tw, "Tiles:\t%d\n", res.TileCount)
	fmt.Fprintf(tw, "Files:\t%d\n", res.FileCount)
	fmt.Fprintf(tw, "Years:\t%s\n", joinInts(res.Years))
	if len(res.AmbiguousYears) > 0 {
		fmt.Fprintf(tw, "Tied years:\t%s (kept the most recent)\n", joinInts(res.AmbiguousYears))
	}
	if len(res.ProjectNames) > 0 {
		fmt.Fprintf(tw, "Projects:\t%s\n", strings.Join(res.ProjectNames, ", "))
	}
	if res.UTMCRS != "" {
		fmt.Fprintf(tw, "UTM CRS:\t%s\n", res.UTMCRS)
	}
	_ = tw.Flush()
}

func joinInts(vs []int) string {
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ", ")
}

// writeFormatted encodes v as json or yaml.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// renderResult prints res in the requested format. rec may be nil.
func renderResult(w io.Writer, format string, res *resolver.QueryResult, rec *store.Record) error {
	if format == "" || format == "text" {
		printSummary(w, res)
		if rec != nil {
			fmt.Fprintf(w, "Saved as query %s\n", rec.ID)
		}
		return nil
	}
	return writeFormatted(w, format, res)
}

// writeRetrieval prints what a plan would do: PDAL pipelines as JSON, or the
// download list.
func writeRetrieval(w io.Writer, r pdal.Retrieval) error {
	if len(r.Plans) == 0 {
		for _, u := range r.Downloads {
			fmt.Fprintln(w, u)
		}
		return nil
	}
	var v any = r.Plans
	if len(r.Plans) == 1 {
		v = r.Plans[0]
	}
	return writeFormatted(w, "json", v)
}

// formatHistory writes a table of saved queries.
func formatHistory(w io.Writer, recs []store.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tKIND\tINPUT\tFILES\tYEARS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Request.Kind,
			describeRequest(r),
			r.Result.FileCount,
			joinInts(r.Result.Years),
		)
	}
	_ = tw.Flush()
}

func describeRequest(r store.Record) string {
	switch {
	case r.Request.Address != "":
		return r.Request.Address
	case r.Request.Area != "":
		return r.Request.Area
	default:
		b := r.Request.BBox
		return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b[0], b[1], b[2], b[3])
	}
}
