package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/canlidar/internal/export"
	"github.com/sells-group/canlidar/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved queries",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved queries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		project, _ := cmd.Flags().GetString("project")
		year, _ := cmd.Flags().GetInt("year")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		recs, err := st.ListQueries(ctx, store.Filter{Project: project, Year: year, Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "history list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No queries found.")
			return nil
		}
		formatHistory(cmd.OutOrStdout(), recs)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <query-id>",
	Short: "Show a saved query and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetQuery(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
			if err := export.WriteXLSX(path, &rec.Result); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Tile listing written to %s\n", path)
		}

		format, _ := cmd.Flags().GetString("format")
		return writeFormatted(cmd.OutOrStdout(), format, rec)
	},
}

func openHistory(cmd *cobra.Command) (store.Store, error) {
	if cfg.Store.Driver == "" {
		return nil, eris.New("history is disabled (store.driver is empty)")
	}
	return store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func init() {
	historyListCmd.Flags().String("project", "", "only queries that matched this catalog project")
	historyListCmd.Flags().Int("year", 0, "only queries that matched tiles of this year")
	historyListCmd.Flags().Int("limit", 50, "max number of queries to display")
	historyListCmd.Flags().Int("offset", 0, "skip this many queries")

	historyShowCmd.Flags().String("format", "json", "output format: json or yaml")
	historyShowCmd.Flags().String("xlsx", "", "also write the tile listing to this .xlsx file")

	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}
