package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/retrieve"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Download, clip or merge the LiDAR tiles covering an area",
	Long: "Resolves the query, writes <out>/<project>/<project>_query.json and a tile listing, then fetches the tiles. " +
		"Without --clip or --merge the files are downloaded as-is; otherwise PDAL pipelines are run.",
}

func runRetrieve(cmd *cobra.Command, req query.Request) error {
	ctx := cmd.Context()
	if err := cfg.Validate("retrieve"); err != nil {
		return err
	}

	clip, _ := cmd.Flags().GetBool("clip")
	merge, _ := cmd.Flags().GetBool("merge")
	project, _ := cmd.Flags().GetString("project")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = cfg.Output.Dir
	}

	env, err := initEnv(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer env.Close()

	w := cmd.OutOrStdout()
	res, _, err := resolveRequest(ctx, env, req, targetYear(cmd))
	if reportExpected(w, err) {
		return nil
	}
	if err != nil {
		return err
	}
	printSummary(w, res)

	rep, err := env.Runner.Run(ctx, res, retrieve.Options{
		OutputDir:   out,
		Project:     project,
		Clip:        clip,
		Merge:       merge,
		ReaderKind:  cfg.PDAL.Reader,
		WriterKind:  cfg.PDAL.Writer,
		Concurrency: cfg.PDAL.Concurrency,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Result written to %s\n", rep.ResultPath)
	for _, o := range rep.Outputs {
		fmt.Fprintf(w, "Wrote %s\n", o)
	}
	if len(rep.Downloads) > 0 {
		skipped := 0
		for _, d := range rep.Downloads {
			if d.Skipped {
				skipped++
			}
		}
		fmt.Fprintf(w, "Downloaded %d files to %s (%d already present)\n", len(rep.Downloads)-skipped, rep.Dir, skipped)
	}
	return nil
}

func init() {
	retrieveCmd.PersistentFlags().Int("year", 0, "target acquisition year (0 keeps every year)")
	retrieveCmd.PersistentFlags().Bool("clip", false, "clip each tile to the query polygon")
	retrieveCmd.PersistentFlags().Bool("merge", false, "merge all tiles into <project>_merged.laz")
	retrieveCmd.PersistentFlags().String("project", "", "project name for the output folder (default canlidar)")
	retrieveCmd.PersistentFlags().String("out", "", "output root directory (default from config)")
	retrieveCmd.AddCommand(requestCommands("Retrieve tiles", runRetrieve)...)
	rootCmd.AddCommand(retrieveCmd)
}
