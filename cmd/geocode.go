package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfido/census/internal/resilience"
	"github.com/openfido/census/pkg/geocode"
)

var (
	geocodeProvider  string
	geocodeBatchFile string
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode [address]",
	Short: "Resolve street addresses to coordinates",
	Long: `geocode resolves a one-line address, or a CSV of addresses with
--batch, through the configured provider and prints the results as JSON.

The batch file needs id, street, city, state, and zip columns.`,
	RunE: runGeocode,
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeProvider, "provider", "", "geocoding provider: census or nominatim (default from config)")
	geocodeCmd.Flags().StringVar(&geocodeBatchFile, "batch", "", "CSV file of addresses to geocode in one request")

	rootCmd.AddCommand(geocodeCmd)
}

func runGeocode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if geocodeBatchFile == "" && len(args) == 0 {
		return eris.New("provide an address argument or --batch file")
	}

	provider := geocodeProvider
	if provider == "" {
		provider = cfg.Geocoder.Provider
	}

	client, err := geocode.New(provider,
		geocode.WithUserAgent(cfg.Geocoder.UserAgent),
		geocode.WithTimeout(time.Duration(cfg.Geocoder.TimeoutSecs)*time.Second),
		geocode.WithRateLimit(cfg.Geocoder.RateLimit),
		geocode.WithRetry(resilience.JobRetryConfig(cfg.Geocoder.Retries, cfg.Geocoder.SleepSecs)),
	)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if geocodeBatchFile != "" {
		addrs, err := geocode.ReadAddressFile(geocodeBatchFile)
		if err != nil {
			return err
		}
		zap.L().Info("geocoding batch",
			zap.String("provider", provider),
			zap.Int("addresses", len(addrs)),
		)
		results, err := client.BatchGeocode(ctx, addrs)
		if err != nil {
			return err
		}
		return enc.Encode(results)
	}

	result, err := client.Geocode(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return enc.Encode(result)
}
