package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "canlidar",
	Short: "Find and retrieve Canadian LiDAR tiles",
	Long:  "Resolves a bounding box, address or named area against the national LiDAR tile index, picks the acquisition year closest to a target, and downloads or clips the matching point clouds with PDAL.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
