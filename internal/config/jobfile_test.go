package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeo() GeocoderConfig {
	return GeocoderConfig{
		Provider:    "census",
		UserAgent:   "census-enrich",
		TimeoutSecs: 5,
		Retries:     5,
		SleepSecs:   1,
	}
}

func writeJob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJob_MissingFile(t *testing.T) {
	job, err := LoadJob(filepath.Join(t.TempDir(), "config.csv"), testGeo())
	require.NoError(t, err)

	assert.Equal(t, "input.csv", job.InputFilename)
	assert.Equal(t, "output.csv", job.OutputFilename)
	assert.Equal(t, "*", job.StateFields)
	assert.Equal(t, "*", job.ZipcodeFields)
	assert.Equal(t, "", job.TractFields)
	assert.False(t, job.Reverse)
	assert.Equal(t, "census", job.Provider)
}

func TestLoadJob_Overrides(t *testing.T) {
	path := writeJob(t, `INPUT_FILENAME,points.csv
OUTPUT_FILENAME,enriched.csv
STATE_FIELDS,"STUSPS,NAME"
ZIPCODE_FIELDS,ZCTA5CE10
TRACT_FIELDS,*
PROVIDER,nominatim
TIMEOUT,30
RETRIES,2
SLEEP,3
`)

	job, err := LoadJob(path, testGeo())
	require.NoError(t, err)

	assert.Equal(t, "points.csv", job.InputFilename)
	assert.Equal(t, "enriched.csv", job.OutputFilename)
	assert.Equal(t, "STUSPS,NAME", job.StateFields)
	assert.Equal(t, "ZCTA5CE10", job.ZipcodeFields)
	assert.Equal(t, "*", job.TractFields)
	assert.Equal(t, "nominatim", job.Provider)
	assert.Equal(t, 30, job.TimeoutSecs)
	assert.Equal(t, 2, job.Retries)
	assert.Equal(t, 3, job.SleepSecs)
}

func TestLoadJob_KeysCaseInsensitive(t *testing.T) {
	path := writeJob(t, "input_filename,a.csv\nState_Fields,STUSPS\n")

	job, err := LoadJob(path, testGeo())
	require.NoError(t, err)

	assert.Equal(t, "a.csv", job.InputFilename)
	assert.Equal(t, "STUSPS", job.StateFields)
}

func TestLoadJob_BareKeyIsTrue(t *testing.T) {
	job, err := LoadJob(writeJob(t, "REVERSE\n"), testGeo())
	require.NoError(t, err)
	assert.True(t, job.Reverse)
}

func TestLoadJob_ReverseSpellings(t *testing.T) {
	cases := map[string]bool{
		"yes": true, "no": false,
		"true": true, "false": false,
		"1": true, "0": false,
	}
	for value, want := range cases {
		job, err := LoadJob(writeJob(t, "REVERSE,"+value+"\n"), testGeo())
		require.NoError(t, err, value)
		assert.Equal(t, want, job.Reverse, value)
	}

	_, err := LoadJob(writeJob(t, "REVERSE,maybe\n"), testGeo())
	assert.Error(t, err)
}

func TestLoadJob_UnknownKeyIgnored(t *testing.T) {
	job, err := LoadJob(writeJob(t, "FROBNICATE,9\nINPUT_FILENAME,a.csv\n"), testGeo())
	require.NoError(t, err)
	assert.Equal(t, "a.csv", job.InputFilename)
}

func TestLoadJob_BadNumber(t *testing.T) {
	_, err := LoadJob(writeJob(t, "TIMEOUT,soon\n"), testGeo())
	assert.Error(t, err)
}

func TestLoadJob_BlankLines(t *testing.T) {
	job, err := LoadJob(writeJob(t, "\nINPUT_FILENAME,a.csv\n\n"), testGeo())
	require.NoError(t, err)
	assert.Equal(t, "a.csv", job.InputFilename)
}

func TestFieldList(t *testing.T) {
	all := []string{"STUSPS", "NAME", "GEOID"}

	assert.Nil(t, FieldList("", all))
	assert.Equal(t, all, FieldList("*", all))
	assert.Equal(t, []string{"STUSPS", "GEOID"}, FieldList("STUSPS, GEOID", all))
	assert.Equal(t, []string{"NAME"}, FieldList(" NAME ,", all))
}

func TestFieldList_WildcardCopies(t *testing.T) {
	all := []string{"A", "B"}
	got := FieldList("*", all)
	got[0] = "mutated"
	assert.Equal(t, "A", all[0])
}
