package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfido/census/internal/store"
	"github.com/openfido/census/internal/tiger"
)

var (
	tigerLayers      string
	tigerStates      string
	tigerYear        int
	tigerConcurrency int
	tigerForce       bool
	tigerStatus      bool
	tigerRuns        bool
)

var tigerloadCmd = &cobra.Command{
	Use:   "tigerload",
	Short: "Download TIGER/Line layers into the boundary cache",
	Long: `tigerload fetches TIGER/Line shapefiles from the Census Bureau and
stores the parsed polygons in the local cache database so enrich runs do not
touch the network. State and ZCTA are national files; tract layers are
downloaded per state.`,
	RunE: runTigerload,
}

func init() {
	tigerloadCmd.Flags().StringVar(&tigerLayers, "layers", "", "comma-separated layers to load: state, zcta, tract (default state,zcta)")
	tigerloadCmd.Flags().StringVar(&tigerStates, "states", "", "comma-separated state abbreviations restricting zcta and tract loads")
	tigerloadCmd.Flags().IntVar(&tigerYear, "year", 0, "TIGER/Line data year (default from config)")
	tigerloadCmd.Flags().IntVar(&tigerConcurrency, "concurrency", 3, "parallel per-state downloads")
	tigerloadCmd.Flags().BoolVar(&tigerForce, "force", false, "reload layers even when already cached")
	tigerloadCmd.Flags().BoolVar(&tigerStatus, "status", false, "print cached layers and exit")
	tigerloadCmd.Flags().BoolVar(&tigerRuns, "runs", false, "print recent enrichment runs and exit")

	rootCmd.AddCommand(tigerloadCmd)
}

func runTigerload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := os.MkdirAll(cfg.Tiger.CacheDir, 0o755); err != nil {
		return eris.Wrap(err, "create cache directory")
	}
	cache, err := store.NewCache(cfg.Tiger.CacheDBPath())
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck
	if err := cache.Migrate(ctx); err != nil {
		return err
	}

	if tigerStatus {
		return printLayerStatus(ctx, cache)
	}
	if tigerRuns {
		return printRuns(ctx, cache)
	}

	year := tigerYear
	if year == 0 {
		year = cfg.Tiger.Year
	}

	opts := tiger.LoadOptions{
		Year:        year,
		BaseURL:     cfg.Tiger.BaseURL,
		CacheDir:    cfg.Tiger.CacheDir,
		States:      splitUpper(tigerStates),
		Layers:      splitLower(tigerLayers),
		Concurrency: tigerConcurrency,
		Force:       tigerForce,
	}

	zap.L().Info("loading TIGER layers",
		zap.Int("year", opts.Year),
		zap.Strings("layers", opts.Layers),
		zap.Strings("states", opts.States),
	)
	return tiger.Load(ctx, cache, opts)
}

func printLayerStatus(ctx context.Context, cache *store.Cache) error {
	layers, err := cache.LayerStatus(ctx)
	if err != nil {
		return err
	}
	if len(layers) == 0 {
		fmt.Println("No layers cached. Run tigerload to populate the cache.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tPRODUCT\tYEAR\tFEATURES\tLOADED\tLOAD TIME")
	for _, m := range layers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%dms\n",
			m.Layer, m.Product, m.Year, m.FeatureCount,
			m.LoadedAt.Format("2006-01-02 15:04"), m.DurationMs)
	}
	return w.Flush()
}

func printRuns(ctx context.Context, cache *store.Cache) error {
	runs, err := cache.ListRuns(ctx, 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No enrichment runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tINPUT\tROWS\tMATCHED\tSKIPPED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%dms\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Input,
			r.RowCount, r.Matched, r.Skipped, r.DurationMs)
	}
	return w.Flush()
}

func splitUpper(s string) []string {
	return splitTrim(s, strings.ToUpper)
}

func splitLower(s string) []string {
	return splitTrim(s, strings.ToLower)
}

func splitTrim(s string, transform func(string) string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, transform(part))
		}
	}
	return out
}
