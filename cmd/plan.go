package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sells-group/canlidar/internal/pdal"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/retrieve"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the PDAL pipeline for an area without running it",
}

func runPlan(cmd *cobra.Command, req query.Request) error {
	ctx := cmd.Context()
	if err := cfg.Validate("query"); err != nil {
		return err
	}

	clip, _ := cmd.Flags().GetBool("clip")
	merge, _ := cmd.Flags().GetBool("merge")
	project, _ := cmd.Flags().GetString("project")

	env, err := initEnv(ctx, cfg, false)
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

	project = retrieve.Project(project)
	r, err := pdal.Build(pdal.Input{URLs: res.URLs, Geometry: res.Geometry}, pdal.Options{
		Clip:       clip,
		MergeAll:   merge,
		OutputDir:  filepath.Join(cfg.Output.Dir, project),
		Project:    project,
		ReaderKind: cfg.PDAL.Reader,
		WriterKind: cfg.PDAL.Writer,
	})
	if err != nil {
		return err
	}
	return writeRetrieval(w, r)
}

func init() {
	planCmd.PersistentFlags().Int("year", 0, "target acquisition year (0 keeps every year)")
	planCmd.PersistentFlags().Bool("clip", false, "clip each tile to the query polygon")
	planCmd.PersistentFlags().Bool("merge", false, "merge all tiles into one output")
	planCmd.PersistentFlags().String("project", "", "project name used for output paths")
	planCmd.AddCommand(requestCommands("Plan retrieval", runPlan)...)
	rootCmd.AddCommand(planCmd)
}
