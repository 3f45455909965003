package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/canlidar/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Resolve the LiDAR tiles covering an area",
	Long:  "Finds the catalog tiles intersecting a bounding box, the square around an address, or an administrative area, keeping the acquisition year closest to --year.",
}

func runQuery(cmd *cobra.Command, req query.Request) error {
	ctx := cmd.Context()
	if err := cfg.Validate("query"); err != nil {
		return err
	}
	noSave, _ := cmd.Flags().GetBool("no-save")
	format, _ := cmd.Flags().GetString("format")

	env, err := initEnv(ctx, cfg, !noSave)
	if err != nil {
		return err
	}
	defer env.Close()

	res, rec, err := resolveRequest(ctx, env, req, targetYear(cmd))
	if reportExpected(cmd.OutOrStdout(), err) {
		return nil
	}
	if err != nil {
		return err
	}
	return renderResult(cmd.OutOrStdout(), format, res, rec)
}

func init() {
	queryCmd.PersistentFlags().Int("year", 0, "target acquisition year (0 keeps every year)")
	queryCmd.PersistentFlags().String("format", "text", "output format: text, json or yaml")
	queryCmd.PersistentFlags().Bool("no-save", false, "do not record the query in history")
	queryCmd.AddCommand(requestCommands("Find tiles", runQuery)...)
	rootCmd.AddCommand(queryCmd)
}
