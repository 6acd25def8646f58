package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var nominatimSearchURL = "https://nominatim.openstreetmap.org/search"

// nominatimClient geocodes via the OpenStreetMap Nominatim service. Nominatim
// has no batch endpoint, so batches run through the rate limiter one by one.
type nominatimClient struct {
	settings
}

// nominatimResult is one entry of the Nominatim search response.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
}

// Geocode resolves a one-line address via the Nominatim search API.
func (c *nominatimClient) Geocode(ctx context.Context, address string) (*Result, error) {
	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}

	body, err := c.doGET(ctx, nominatimSearchURL+"?"+params.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim search")
	}

	var entries []nominatimResult
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}

	if len(entries) == 0 {
		return &Result{Matched: false, Source: ProviderNominatim}, nil
	}

	lat, err := strconv.ParseFloat(entries[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lat")
	}
	lon, err := strconv.ParseFloat(entries[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lon")
	}

	return &Result{
		Latitude:  lat,
		Longitude: lon,
		Source:    ProviderNominatim,
		Quality:   entries[0].Class,
		Matched:   true,
	}, nil
}

// BatchGeocode resolves addresses sequentially; failures mark individual
// addresses unmatched rather than aborting the batch.
func (c *nominatimClient) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	results := make([]Result, len(addrs))
	for i, addr := range addrs {
		r, err := c.Geocode(ctx, FormatOneLine(addr))
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			zap.L().Warn("geocode: nominatim address failed",
				zap.String("id", addr.ID),
				zap.Error(err),
			)
			results[i] = Result{Matched: false, Source: ProviderNominatim}
			continue
		}
		results[i] = *r
	}
	return results, nil
}
