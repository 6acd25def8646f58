package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfido/census/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "census",
	Short: "Enrich coordinate CSVs with Census TIGER boundary data",
	Long: `census augments CSV files of latitude/longitude points with the
Census TIGER state, ZCTA, and tract polygons that contain them, and can
geocode street addresses through the Census or Nominatim geocoders.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return config.InitLogger(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
