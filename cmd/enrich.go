package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfido/census/internal/boundary"
	"github.com/openfido/census/internal/config"
	"github.com/openfido/census/internal/pipeline"
	"github.com/openfido/census/internal/resilience"
	"github.com/openfido/census/internal/store"
	"github.com/openfido/census/internal/tiger"
	"github.com/openfido/census/pkg/geocode"
)

var (
	enrichInputDir    string
	enrichOutputDir   string
	enrichJobFile     string
	enrichConcurrency int
	enrichSkipInvalid bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Augment a coordinate CSV with TIGER boundary attributes",
	Long: `enrich reads the job file (config.csv by default) from the input
directory, loads the boundary layers the job requires, and writes the input
rows back out with the requested state, ZCTA, and tract fields appended.

With REVERSE set in the job file the input is treated as an address list and
latitude/longitude columns are filled in by geocoding instead.`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().StringVar(&enrichInputDir, "input-dir", defaultDir("OPENFIDO_INPUT"), "directory holding the job file and input CSV")
	enrichCmd.Flags().StringVar(&enrichOutputDir, "output-dir", defaultDir("OPENFIDO_OUTPUT"), "directory the output CSV is written to")
	enrichCmd.Flags().StringVar(&enrichJobFile, "job", "config.csv", "job file name inside the input directory")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 0, "rows processed in parallel (default from config)")
	enrichCmd.Flags().BoolVar(&enrichSkipInvalid, "skip-invalid", false, "emit rows with unparseable coordinates blank instead of failing")

	rootCmd.AddCommand(enrichCmd)
}

// defaultDir honors the OpenFIDO directory environment contract, falling back
// to the working directory.
func defaultDir(env string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	return "."
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	job, err := config.LoadJob(filepath.Join(enrichInputDir, enrichJobFile), cfg.Geocoder)
	if err != nil {
		return err
	}

	inPath := filepath.Join(enrichInputDir, job.InputFilename)
	outPath := filepath.Join(enrichOutputDir, job.OutputFilename)

	table, err := pipeline.ReadTable(inPath)
	if err != nil {
		return err
	}

	concurrency := enrichConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Enrich.Concurrency
	}

	log := zap.L().With(
		zap.String("input", inPath),
		zap.String("output", outPath),
		zap.Int("rows", len(table.Rows)),
	)

	var (
		out   *pipeline.Table
		stats pipeline.Stats
	)
	if job.Reverse {
		log.Info("reverse geocoding address file", zap.String("provider", job.Provider))
		out, stats, err = reverseGeocode(ctx, table, job, concurrency)
	} else {
		out, stats, err = enrichCoordinates(ctx, table, job, concurrency, inPath, outPath, start)
	}
	if err != nil {
		return err
	}

	if err := pipeline.WriteTable(outPath, out); err != nil {
		return err
	}

	log.Info("enrichment complete",
		zap.Int("matched", stats.Matched),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// enrichCoordinates runs the boundary lookup path and records the run in the
// cache database.
func enrichCoordinates(ctx context.Context, table *pipeline.Table, job config.Job, concurrency int, inPath, outPath string, start time.Time) (*pipeline.Table, pipeline.Stats, error) {
	var stats pipeline.Stats

	if err := os.MkdirAll(cfg.Tiger.CacheDir, 0o755); err != nil {
		return nil, stats, eris.Wrap(err, "create cache directory")
	}
	cache, err := store.NewCache(cfg.Tiger.CacheDBPath())
	if err != nil {
		return nil, stats, err
	}
	defer cache.Close() //nolint:errcheck
	if err := cache.Migrate(ctx); err != nil {
		return nil, stats, err
	}

	loadOpts := tiger.LoadOptions{
		Year:     cfg.Tiger.Year,
		BaseURL:  cfg.Tiger.BaseURL,
		CacheDir: cfg.Tiger.CacheDir,
	}

	stateProduct, _ := tiger.ProductByLayer(tiger.LayerState)
	zctaProduct, _ := tiger.ProductByLayer(tiger.LayerZCTA)
	tractProduct, _ := tiger.ProductByLayer(tiger.LayerTract)

	stateFields := config.FieldList(job.StateFields, stateProduct.Columns)
	zipFields := config.FieldList(job.ZipcodeFields, zctaProduct.Columns)
	tractFields := config.FieldList(job.TractFields, tractProduct.Columns)

	opts := pipeline.EnricherOptions{
		StateFields: stateFields,
		ZipFields:   zipFields,
		TractFields: tractFields,
		SkipInvalid: enrichSkipInvalid,
		Concurrency: concurrency,
	}

	// Tract lookups need the state layer to resolve STATEFP even when no
	// state fields were requested.
	if len(stateFields) > 0 || len(tractFields) > 0 {
		opts.State, err = tiger.EnsureLayer(ctx, cache, stateProduct, "", loadOpts)
		if err != nil {
			return nil, stats, err
		}
	}
	if len(zipFields) > 0 {
		opts.ZCTA, err = tiger.EnsureLayer(ctx, cache, zctaProduct, "", loadOpts)
		if err != nil {
			return nil, stats, err
		}
	}
	if len(tractFields) > 0 {
		opts.Tracts = func(ctx context.Context, stateFIPS string) (*boundary.Layer, error) {
			return tiger.EnsureLayer(ctx, cache, tractProduct, stateFIPS, loadOpts)
		}
	}

	enricher, err := pipeline.NewEnricher(opts)
	if err != nil {
		return nil, stats, err
	}

	out, stats, err := enricher.Run(ctx, table)
	if err != nil {
		return nil, stats, err
	}

	runID, err := cache.RecordRun(ctx, store.Run{
		Input:      inPath,
		Output:     outPath,
		RowCount:   stats.Rows,
		Matched:    stats.Matched,
		Skipped:    stats.Skipped,
		StartedAt:  start,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	if err != nil {
		// The output is already computed; a bookkeeping failure should not
		// discard it.
		zap.L().Warn("failed to record enrichment run", zap.Error(err))
	} else {
		zap.L().Debug("enrichment run recorded", zap.String("run_id", runID))
	}

	return out, stats, nil
}

func reverseGeocode(ctx context.Context, table *pipeline.Table, job config.Job, concurrency int) (*pipeline.Table, pipeline.Stats, error) {
	client, err := geocode.New(job.Provider,
		geocode.WithUserAgent(job.UserAgent),
		geocode.WithTimeout(time.Duration(job.TimeoutSecs)*time.Second),
		geocode.WithRateLimit(cfg.Geocoder.RateLimit),
		geocode.WithRetry(resilience.JobRetryConfig(job.Retries, job.SleepSecs)),
	)
	if err != nil {
		return nil, pipeline.Stats{}, err
	}
	return pipeline.Reverse(ctx, table, client, concurrency)
}
