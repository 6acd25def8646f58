package tiger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfido/census/internal/boundary"
	"github.com/openfido/census/internal/store"
)

// LoadOptions configures boundary layer loading.
type LoadOptions struct {
	Year        int      // TIGER/Line data year (default 2020)
	BaseURL     string   // download base, e.g. https://www2.census.gov/geo/tiger
	CacheDir    string   // download/extract directory
	States      []string // state abbreviations; restricts ZCTA and tract loads
	Layers      []string // layer names; empty = state + zcta
	Concurrency int      // parallel per-state downloads (default 3)
	Force       bool     // reload even when cached
}

func (o *LoadOptions) applyDefaults() {
	if o.Year == 0 {
		o.Year = 2020
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://www2.census.gov/geo/tiger"
	}
	if o.CacheDir == "" {
		o.CacheDir = ".census-cache"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
}

// Load downloads and caches the requested boundary layers.
func Load(ctx context.Context, cache *store.Cache, opts LoadOptions) error {
	opts.applyDefaults()

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", opts.Year),
	)

	layers := opts.Layers
	if len(layers) == 0 {
		layers = []string{LayerState, LayerZCTA}
	}

	var national, perState []Product
	for _, name := range layers {
		p, ok := ProductByLayer(name)
		if !ok {
			return eris.Errorf("tiger: unknown layer %q", name)
		}
		if p.National {
			national = append(national, p)
		} else {
			perState = append(perState, p)
		}
	}

	// Pre-validate state abbreviations before starting any work.
	for _, abbr := range opts.States {
		if _, ok := FIPSCodes[abbr]; !ok {
			return eris.Errorf("tiger: unknown state %q", abbr)
		}
	}

	// National layers load sequentially; they are single large files.
	for _, p := range national {
		if err := loadProduct(ctx, cache, p, "", opts); err != nil {
			return eris.Wrapf(err, "tiger: load %s", p.Name)
		}
	}
	log.Info("national layers loaded", zap.Int("count", len(national)))

	if len(perState) == 0 {
		return nil
	}

	states := opts.States
	if len(states) == 0 {
		states = AllStateAbbrs()
		log.Warn("loading per-state layers for all states, this downloads 51 files")
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, abbr := range states {
		fips := FIPSCodes[abbr]
		for _, p := range perState {
			p := p
			g.Go(func() error {
				return loadProduct(gCtx, cache, p, fips, opts)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("per-state layers loaded",
		zap.Int("states", len(states)),
		zap.Int("layers", len(perState)),
	)
	return nil
}

// EnsureLayer returns a layer from the cache, downloading and parsing it
// first when absent (or when Force is set).
func EnsureLayer(ctx context.Context, cache *store.Cache, product Product, stateFIPS string, opts LoadOptions) (*boundary.Layer, error) {
	opts.applyDefaults()

	key := product.LayerKey(stateFIPS)
	if !opts.Force {
		layer, err := cache.LoadLayer(ctx, key)
		if err != nil {
			return nil, err
		}
		if layer != nil {
			return layer, nil
		}
	}

	if err := loadProduct(ctx, cache, product, stateFIPS, opts); err != nil {
		return nil, err
	}

	layer, err := cache.LoadLayer(ctx, key)
	if err != nil {
		return nil, err
	}
	if layer == nil {
		return nil, eris.Errorf("tiger: layer %s missing after load", key)
	}
	return layer, nil
}

// loadProduct downloads, parses, and caches a single product.
func loadProduct(ctx context.Context, cache *store.Cache, product Product, stateFIPS string, opts LoadOptions) error {
	key := product.LayerKey(stateFIPS)
	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.String("layer", key),
	)

	if !opts.Force {
		cached, err := cache.HasLayer(ctx, key)
		if err != nil {
			return err
		}
		if cached {
			log.Debug("layer already cached, skipping")
			return nil
		}
	}

	start := time.Now()

	url := DownloadURL(product, opts.BaseURL, opts.Year, stateFIPS)
	destDir := filepath.Join(opts.CacheDir, fmt.Sprint(opts.Year), strings.ToLower(product.Name))
	shpPath, err := Download(ctx, url, destDir)
	if err != nil {
		return eris.Wrapf(err, "tiger: download %s", key)
	}
	log.Info("shapefile downloaded", zap.String("path", shpPath))

	features, err := ParseShapefile(shpPath, product)
	if err != nil {
		return eris.Wrapf(err, "tiger: parse %s", key)
	}

	// A state subset keeps only ZCTAs whose leading digit occurs in those
	// states, which cuts the national layer down dramatically.
	if product.Layer == LayerZCTA && len(opts.States) > 0 {
		before := len(features)
		features = filterZCTAByStates(features, opts.States)
		log.Info("restricted ZCTA layer to state subset",
			zap.Int("before", before),
			zap.Int("after", len(features)),
		)
	}

	meta := store.LayerMeta{
		Layer:      key,
		Product:    product.Name,
		Year:       opts.Year,
		Columns:    product.Columns,
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err := cache.SaveLayer(ctx, meta, features); err != nil {
		return eris.Wrapf(err, "tiger: cache %s", key)
	}

	log.Info("layer cached",
		zap.Int("features", len(features)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// filterZCTAByStates keeps ZCTA features whose code starts with a digit used
// by one of the given states.
func filterZCTAByStates(features []boundary.Feature, states []string) []boundary.Feature {
	digits := make(map[byte]bool)
	for _, abbr := range states {
		for i := 0; i < len(ZIPPrefixesByState[abbr]); i++ {
			digits[ZIPPrefixesByState[abbr][i]] = true
		}
	}

	var out []boundary.Feature
	for _, f := range features {
		code := f.Attr("ZCTA5CE10")
		if code == "" {
			code = f.Attr("GEOID10")
		}
		if code != "" && digits[code[0]] {
			out = append(out, f)
		}
	}
	return out
}
