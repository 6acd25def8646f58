package tiger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadURL_National(t *testing.T) {
	state, ok := ProductByLayer(LayerState)
	require.True(t, ok)

	url := DownloadURL(state, "https://www2.census.gov/geo/tiger", 2020, "")
	assert.Equal(t, "https://www2.census.gov/geo/tiger/TIGER2020/STATE/tl_2020_us_state.zip", url)

	zcta, ok := ProductByLayer(LayerZCTA)
	require.True(t, ok)

	url = DownloadURL(zcta, "https://www2.census.gov/geo/tiger", 2020, "")
	assert.Equal(t, "https://www2.census.gov/geo/tiger/TIGER2020/ZCTA5/tl_2020_us_zcta510.zip", url)
}

func TestDownloadURL_PerState(t *testing.T) {
	tract, ok := ProductByLayer(LayerTract)
	require.True(t, ok)

	url := DownloadURL(tract, "https://www2.census.gov/geo/tiger", 2020, "08")
	assert.Equal(t, "https://www2.census.gov/geo/tiger/TIGER2020/TRACT/tl_2020_08_tract.zip", url)
}

func TestLayerKey(t *testing.T) {
	state, _ := ProductByLayer(LayerState)
	tract, _ := ProductByLayer(LayerTract)

	assert.Equal(t, "state", state.LayerKey(""))
	assert.Equal(t, "state", state.LayerKey("08"), "national products ignore the FIPS code")
	assert.Equal(t, "tract_08", tract.LayerKey("08"))
}

func TestProductByLayer_Unknown(t *testing.T) {
	_, ok := ProductByLayer("county")
	assert.False(t, ok)
}

func TestHasColumn(t *testing.T) {
	state, _ := ProductByLayer(LayerState)
	assert.True(t, state.HasColumn("STUSPS"))
	assert.False(t, state.HasColumn("ZCTA5CE10"))
}

func TestFIPSCodes(t *testing.T) {
	assert.Len(t, FIPSCodes, 51)
	assert.Equal(t, "06", FIPSCodes["CA"])
	assert.Equal(t, "11", FIPSCodes["DC"])

	abbr, ok := AbbrFromFIPS("48")
	require.True(t, ok)
	assert.Equal(t, "TX", abbr)

	_, ok = AbbrFromFIPS("99")
	assert.False(t, ok)
}

func TestAllStateAbbrs(t *testing.T) {
	abbrs := AllStateAbbrs()
	require.Len(t, abbrs, 51)
	assert.Equal(t, "AK", abbrs[0])
	assert.Equal(t, "WY", abbrs[len(abbrs)-1])
}

func TestZIPPrefixes(t *testing.T) {
	// Every state with a FIPS code has ZIP prefixes, and vice versa.
	for abbr := range FIPSCodes {
		assert.NotEmpty(t, ZIPPrefixesByState[abbr], abbr)
	}
	assert.Len(t, ZIPPrefixesByState, len(FIPSCodes))

	assert.Equal(t, "78", ZIPPrefixesByState["TX"])
	assert.Equal(t, "01", ZIPPrefixesByState["NY"])
}
