// Package geocode resolves street addresses to coordinates via the Census
// Geocoder (default) or Nominatim.
package geocode

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/openfido/census/internal/resilience"
)

// Provider names accepted by New.
const (
	ProviderCensus    = "census"
	ProviderNominatim = "nominatim"
)

// Client geocodes one-line addresses.
type Client interface {
	// Geocode resolves a single one-line address.
	Geocode(ctx context.Context, address string) (*Result, error)

	// BatchGeocode resolves structured addresses in bulk.
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// AddressInput is a structured address for batch geocoding.
type AddressInput struct {
	ID     string `csv:"id"`
	Street string `csv:"street"`
	City   string `csv:"city"`
	State  string `csv:"state"`
	Zip    string `csv:"zip"`
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`
	Quality   string  `json:"quality,omitempty"`
	Matched   bool    `json:"matched"`
}

// Option configures a geocoding client.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.Breaker
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.httpClient.Timeout = d
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(s *settings) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *settings) {
		s.retry = cfg
	}
}

// New creates a Client for the named provider.
func New(provider string, opts ...Option) (Client, error) {
	s := settings{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		userAgent:  "census-enrich",
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerConfig()),
	}
	for _, opt := range opts {
		opt(&s)
	}

	switch provider {
	case ProviderCensus, "":
		return &censusClient{settings: s}, nil
	case ProviderNominatim:
		return &nominatimClient{settings: s}, nil
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", provider)
	}
}

// doGET performs a rate-limited, retried GET and returns the response body.
// A shared circuit breaker fails the whole run fast once the provider stops
// responding, so a long address list does not retry against a dead host.
func (s *settings) doGET(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]byte, error) {
			return fetch(ctx, s.httpClient, s.userAgent, url)
		})
	})
}

// fetch issues a single GET request, treating retryable statuses as transient.
func fetch(ctx context.Context, client *http.Client, userAgent, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError(resp.StatusCode, "geocode")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}
	return body, nil
}
