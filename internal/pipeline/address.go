package pipeline

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfido/census/pkg/geocode"
)

// Reverse resolves an address column into latitude/longitude columns. Rows
// whose address does not match get blank coordinates and count as unmatched.
func Reverse(ctx context.Context, in *Table, client geocode.Client, concurrency int) (*Table, Stats, error) {
	var stats Stats
	stats.Rows = len(in.Rows)

	addrIdx := in.ColumnIndex("address")
	if addrIdx < 0 {
		return nil, stats, eris.New("pipeline: reverse mode requires an address column")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	latIdx := in.ColumnIndex("latitude")
	lngIdx := in.ColumnIndex("longitude")

	header := make([]string, len(in.Header))
	copy(header, in.Header)
	if latIdx < 0 {
		latIdx = len(header)
		header = append(header, "latitude")
	}
	if lngIdx < 0 {
		lngIdx = len(header)
		header = append(header, "longitude")
	}

	out := &Table{
		Header: header,
		Rows:   make([][]string, len(in.Rows)),
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, row := range in.Rows {
		i, row := i, row
		g.Go(func() error {
			outRow := make([]string, len(header))
			copy(outRow, row)

			result, err := client.Geocode(gCtx, row[addrIdx])
			if err != nil {
				return eris.Wrapf(err, "pipeline: geocode row %d", i+1)
			}

			if result.Matched {
				outRow[latIdx] = strconv.FormatFloat(result.Latitude, 'f', 6, 64)
				outRow[lngIdx] = strconv.FormatFloat(result.Longitude, 'f', 6, 64)
			} else {
				zap.L().Warn("pipeline: address did not match",
					zap.Int("row", i+1),
					zap.String("address", row[addrIdx]),
				)
			}

			mu.Lock()
			if result.Matched {
				stats.Matched++
			} else {
				stats.Unmatched++
			}
			mu.Unlock()

			out.Rows[i] = outRow
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}
