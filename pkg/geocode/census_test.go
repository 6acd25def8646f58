package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfido/census/internal/resilience"
)

func newCensusTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *censusClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oldOneLine, oldBatch := censusOneLineURL, censusBatchURL
	censusOneLineURL = srv.URL + "/onelineaddress"
	censusBatchURL = srv.URL + "/addressbatch"
	t.Cleanup(func() {
		censusOneLineURL, censusBatchURL = oldOneLine, oldBatch
	})

	c, err := New(ProviderCensus, opts...)
	require.NoError(t, err)
	return c.(*censusClient)
}

func TestCensusGeocode(t *testing.T) {
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/onelineaddress", r.URL.Path)
		assert.Equal(t, censusBenchmark, r.URL.Query().Get("benchmark"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		w.Write([]byte(`{"result":{"addressMatches":[
			{"coordinates":{"x":-77.03654,"y":38.89766},"matchedAddress":"1600 PENNSYLVANIA AVE NW"}
		]}}`))
	})

	result, err := client.Geocode(context.Background(), "1600 Pennsylvania Ave NW, Washington, DC")
	require.NoError(t, err)

	assert.True(t, result.Matched)
	assert.InDelta(t, 38.89766, result.Latitude, 1e-6)
	assert.InDelta(t, -77.03654, result.Longitude, 1e-6)
	assert.Equal(t, ProviderCensus, result.Source)
	assert.Equal(t, "rooftop", result.Quality)
}

func TestCensusGeocode_NoMatch(t *testing.T) {
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	})

	result, err := client.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestCensusGeocode_ServerError(t *testing.T) {
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	_, err := client.Geocode(context.Background(), "anything")
	assert.Error(t, err)
}

func TestCensusGeocode_FailsFastWhenProviderDown(t *testing.T) {
	var hits atomic.Int32
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, WithRetry(resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}))

	for i := 0; i < 5; i++ {
		_, err := client.Geocode(context.Background(), "anything")
		require.Error(t, err)
	}
	got := hits.Load()

	// The circuit is open now, further lookups never reach the provider.
	_, err := client.Geocode(context.Background(), "anything")
	require.ErrorIs(t, err, resilience.ErrBreakerOpen)
	assert.Equal(t, got, hits.Load())
}

func TestCensusBatchGeocode(t *testing.T) {
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addressbatch", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, censusBenchmark, r.FormValue("benchmark"))

		_, _, err := r.FormFile("addressFile")
		require.NoError(t, err)

		w.Write([]byte(
			`"A","12 Main St, Denver, CO, 80202","Match","Exact","12 MAIN ST, DENVER, CO, 80202","-104.98750,39.73921","12345","L"` + "\n" +
				`"B","no such place","No_Match"` + "\n",
		))
	})

	results, err := client.BatchGeocode(context.Background(), []AddressInput{
		{ID: "A", Street: "12 Main St", City: "Denver", State: "CO", Zip: "80202"},
		{ID: "B", Street: "no such place"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Matched)
	assert.InDelta(t, 39.73921, results[0].Latitude, 1e-6)
	assert.InDelta(t, -104.98750, results[0].Longitude, 1e-6)
	assert.Equal(t, "rooftop", results[0].Quality)

	assert.False(t, results[1].Matched)
	assert.Equal(t, ProviderCensus, results[1].Source)
}

func TestCensusBatchGeocode_Empty(t *testing.T) {
	client := newCensusTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	})

	results, err := client.BatchGeocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestParseCensusBatchResponse_AssignedIDs(t *testing.T) {
	// Addresses without IDs get positional ones.
	body := `"0","x","Match","Non_Exact","X ST","-80.1,25.7","1","R"`
	results, err := parseCensusBatchResponse(body, map[string]int{"0": 0}, 1)
	require.NoError(t, err)

	assert.True(t, results[0].Matched)
	assert.Equal(t, "range", results[0].Quality)
}

func TestParseCensusCoords(t *testing.T) {
	lon, lat, err := parseCensusCoords("-104.98,39.73")
	require.NoError(t, err)
	assert.InDelta(t, -104.98, lon, 1e-9)
	assert.InDelta(t, 39.73, lat, 1e-9)

	_, _, err = parseCensusCoords("39.73")
	assert.Error(t, err)

	_, _, err = parseCensusCoords("a,b")
	assert.Error(t, err)
}

func TestSplitCSVLine(t *testing.T) {
	fields := splitCSVLine(`"1","12 Main St, Denver","Match"`)
	require.Len(t, fields, 3)
	assert.Equal(t, `"12 Main St, Denver"`, fields[1])
}

func TestFormatOneLine(t *testing.T) {
	assert.Equal(t, "12 Main St, Denver, CO, 80202", FormatOneLine(AddressInput{
		Street: "12 Main St", City: "Denver", State: "CO", Zip: "80202",
	}))
	assert.Equal(t, "Denver, CO", FormatOneLine(AddressInput{City: "Denver", State: " CO "}))
	assert.Equal(t, "", FormatOneLine(AddressInput{}))
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("mapquest")
	assert.Error(t, err)
}

func TestNew_DefaultProvider(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	_, ok := c.(*censusClient)
	assert.True(t, ok)
}
