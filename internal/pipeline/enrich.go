package pipeline

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfido/census/internal/boundary"
)

// TractLoader lazily fetches the tract layer for a state FIPS code. Tract
// boundary files are per-state, so which ones are needed is only known once
// rows start matching states.
type TractLoader func(ctx context.Context, stateFIPS string) (*boundary.Layer, error)

// Stats summarizes an enrichment run.
type Stats struct {
	Rows      int
	Matched   int // rows with at least one boundary match
	Unmatched int // valid coordinates contained by no polygon
	Skipped   int // invalid rows emitted blank under skip-invalid
}

// Enricher appends boundary attributes to coordinate rows.
type Enricher struct {
	state       *boundary.Layer
	zcta        *boundary.Layer
	tracts      TractLoader
	stateFields []string
	zipFields   []string
	tractFields []string
	skipInvalid bool
	concurrency int

	mu         sync.Mutex
	tractCache map[string]*boundary.Layer
}

// EnricherOptions configures a new Enricher. Field slices are the already
// expanded projections; a nil slice disables that category.
type EnricherOptions struct {
	State       *boundary.Layer
	ZCTA        *boundary.Layer
	Tracts      TractLoader
	StateFields []string
	ZipFields   []string
	TractFields []string
	SkipInvalid bool
	Concurrency int
}

// NewEnricher validates the requested fields against the layer schemas and
// returns a ready Enricher.
func NewEnricher(opts EnricherOptions) (*Enricher, error) {
	if len(opts.StateFields) > 0 && opts.State == nil {
		return nil, eris.New("pipeline: state fields requested but state layer not loaded")
	}
	if len(opts.ZipFields) > 0 && opts.ZCTA == nil {
		return nil, eris.New("pipeline: zipcode fields requested but zcta layer not loaded")
	}
	if len(opts.TractFields) > 0 && (opts.State == nil || opts.Tracts == nil) {
		return nil, eris.New("pipeline: tract fields requested but tract loading not configured")
	}

	if opts.State != nil {
		if err := validateFields(opts.StateFields, opts.State.Columns, "state"); err != nil {
			return nil, err
		}
	}
	if opts.ZCTA != nil {
		if err := validateFields(opts.ZipFields, opts.ZCTA.Columns, "zipcode"); err != nil {
			return nil, err
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Enricher{
		state:       opts.State,
		zcta:        opts.ZCTA,
		tracts:      opts.Tracts,
		stateFields: opts.StateFields,
		zipFields:   opts.ZipFields,
		tractFields: opts.TractFields,
		skipInvalid: opts.SkipInvalid,
		concurrency: concurrency,
		tractCache:  make(map[string]*boundary.Layer),
	}, nil
}

// validateFields rejects requested fields missing from the layer schema.
func validateFields(fields, columns []string, category string) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	for _, f := range fields {
		if !known[f] {
			return eris.Errorf("pipeline: field %q is not found in %s data", f, category)
		}
	}
	return nil
}

// Run enriches every row of the table. Input columns pass through unmodified
// and in order; enrichment fields follow, except that a requested field whose
// name matches an input column overwrites that column in place.
func (e *Enricher) Run(ctx context.Context, in *Table) (*Table, Stats, error) {
	var stats Stats
	stats.Rows = len(in.Rows)

	latIdx := in.ColumnIndex("latitude")
	lngIdx := in.ColumnIndex("longitude")
	if latIdx < 0 || lngIdx < 0 {
		return nil, stats, eris.New("pipeline: input requires latitude and longitude columns")
	}

	// Output schema: appended fields are those not already input columns.
	appended := e.outputFields(in)
	header := make([]string, 0, len(in.Header)+len(appended))
	header = append(header, in.Header...)
	header = append(header, appended...)

	out := &Table{
		Header: header,
		Rows:   make([][]string, len(in.Rows)),
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, row := range in.Rows {
		i, row := i, row
		g.Go(func() error {
			outRow, matched, err := e.enrichRow(gCtx, in, header, row)
			if err != nil {
				if !e.skipInvalid {
					return eris.Wrapf(err, "pipeline: row %d", i+1)
				}
				zap.L().Warn("pipeline: skipping invalid row",
					zap.Int("row", i+1),
					zap.Error(err),
				)
				outRow = blankRow(header, row)
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
			} else {
				mu.Lock()
				if matched {
					stats.Matched++
				} else {
					stats.Unmatched++
				}
				mu.Unlock()
			}
			out.Rows[i] = outRow
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// outputFields returns requested fields that extend the header, skipping
// duplicates among the categories themselves.
func (e *Enricher) outputFields(in *Table) []string {
	seen := make(map[string]bool)
	var appended []string
	for _, f := range e.allFields() {
		if in.ColumnIndex(f) >= 0 || seen[f] {
			continue
		}
		seen[f] = true
		appended = append(appended, f)
	}
	return appended
}

func (e *Enricher) allFields() []string {
	all := make([]string, 0, len(e.stateFields)+len(e.zipFields)+len(e.tractFields))
	all = append(all, e.stateFields...)
	all = append(all, e.zipFields...)
	all = append(all, e.tractFields...)
	return all
}

// enrichRow resolves one row. The returned bool reports whether any layer
// contained the point.
func (e *Enricher) enrichRow(ctx context.Context, in *Table, header []string, row []string) ([]string, bool, error) {
	latIdx := in.ColumnIndex("latitude")
	lngIdx := in.ColumnIndex("longitude")

	lat, err := strconv.ParseFloat(row[latIdx], 64)
	if err != nil {
		return nil, false, eris.Errorf("invalid latitude %q", row[latIdx])
	}
	lng, err := strconv.ParseFloat(row[lngIdx], 64)
	if err != nil {
		return nil, false, eris.Errorf("invalid longitude %q", row[lngIdx])
	}

	values := make(map[string]string)
	matched := false

	var stateFeat *boundary.Feature
	if e.state != nil && (len(e.stateFields) > 0 || len(e.tractFields) > 0) {
		stateFeat = e.state.Lookup(lng, lat)
	}
	if stateFeat != nil {
		matched = true
		for _, f := range e.stateFields {
			values[f] = stateFeat.Attr(f)
		}
	}

	if len(e.zipFields) > 0 {
		if zctaFeat := e.zcta.Lookup(lng, lat); zctaFeat != nil {
			matched = true
			for _, f := range e.zipFields {
				values[f] = zctaFeat.Attr(f)
			}
		}
	}

	if len(e.tractFields) > 0 && stateFeat != nil {
		tractLayer, err := e.tractLayer(ctx, stateFeat.Attr("STATEFP"))
		if err != nil {
			return nil, false, err
		}
		if tractFeat := tractLayer.Lookup(lng, lat); tractFeat != nil {
			matched = true
			for _, f := range e.tractFields {
				values[f] = tractFeat.Attr(f)
			}
		}
	}

	// Assemble: original columns (overwritten where a field collides),
	// then appended fields.
	outRow := make([]string, len(header))
	copy(outRow, row)
	for i := len(row); i < len(header); i++ {
		outRow[i] = ""
	}
	for name, val := range values {
		for i, h := range header {
			if strings.EqualFold(h, name) {
				outRow[i] = val
				break
			}
		}
	}

	return outRow, matched, nil
}

// tractLayer returns the cached tract layer for a state, loading it once.
func (e *Enricher) tractLayer(ctx context.Context, stateFIPS string) (*boundary.Layer, error) {
	if stateFIPS == "" {
		return nil, eris.New("pipeline: state match has no STATEFP")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if layer, ok := e.tractCache[stateFIPS]; ok {
		return layer, nil
	}

	layer, err := e.tracts(ctx, stateFIPS)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load tract layer for state %s", stateFIPS)
	}
	if err := validateFields(e.tractFields, layer.Columns, "tract"); err != nil {
		return nil, err
	}
	e.tractCache[stateFIPS] = layer
	return layer, nil
}

// blankRow pads the original row with empty enrichment fields.
func blankRow(header []string, row []string) []string {
	out := make([]string, len(header))
	copy(out, row)
	return out
}
