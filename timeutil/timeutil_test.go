package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO8601(t *testing.T) {
	ts, err := ParseISO8601("2015-04-01T12:34:00+02:00")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, 34, ts.Minute())
	_, offset := ts.Zone()
	assert.Equal(t, 2*3600, offset)

	ts, err = ParseISO8601("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = ParseISO8601("yesterday")
	assert.Error(t, err)
}

func TestISO8601RoundTrip(t *testing.T) {
	for _, s := range []string{
		"2015-04-01T12:34:00+02:00",
		"2015-11-01T00:00:00Z",
		"2024-06-30T23:59:59-05:00",
	} {
		ts, err := ParseISO8601(s)
		require.NoError(t, err)
		back, err := ParseISO8601(ISO8601(ts))
		require.NoError(t, err)
		assert.True(t, ts.Equal(*back))
		assert.Equal(t, s, ISO8601(ts))
	}

	assert.Equal(t, "", ISO8601(nil))
}

func TestParseISODelay(t *testing.T) {
	assert.Equal(t, 0, ParseISODelay(""))
	assert.Equal(t, 5, ParseISODelay("PT5M"))
	assert.Equal(t, 3, ParseISODelay("PT2M30S"))  // half-up
	assert.Equal(t, 2, ParseISODelay("PT2M29S"))
	assert.Equal(t, 90, ParseISODelay("PT1H30M"))
	assert.Equal(t, 1440, ParseISODelay("P1D"))
	assert.Equal(t, 0, ParseISODelay("-PT5M"))
	assert.Equal(t, 0, ParseISODelay("five minutes"))
	assert.Equal(t, 0, ParseISODelay("PT"))
}

func TestCombineLocal(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	date := time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC)

	got := CombineLocal(date, 12*time.Hour+34*time.Minute, ams)
	assert.Equal(t, time.Date(2015, 4, 1, 12, 34, 0, 0, ams), got)

	// Offsets past 24h roll the date forward.
	got = CombineLocal(date, 25*time.Hour+30*time.Minute, ams)
	assert.Equal(t, time.Date(2015, 4, 2, 1, 30, 0, 0, ams), got)

	// 2015-03-29 02:30 does not exist in Amsterdam (spring-forward).
	// The nominal time shifts past the gap by its width: 03:30 CEST.
	gapDate := time.Date(2015, 3, 29, 0, 0, 0, 0, time.UTC)
	got = CombineLocal(gapDate, 2*time.Hour+30*time.Minute, ams)
	name, _ := got.Zone()
	assert.Equal(t, "CEST", name)
	assert.Equal(t, time.Date(2015, 3, 29, 3, 30, 0, 0, ams), got)
}

func TestServiceDate(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	// Before 04:00 the previous day applies.
	got := ServiceDate(time.Date(2015, 4, 2, 3, 59, 0, 0, ams))
	assert.Equal(t, "2015-04-01", Date(got))

	got = ServiceDate(time.Date(2015, 4, 2, 4, 0, 0, 0, ams))
	assert.Equal(t, "2015-04-02", Date(got))

	got = ServiceDate(time.Date(2015, 4, 2, 23, 59, 0, 0, ams))
	assert.Equal(t, "2015-04-02", Date(got))

	// Rolls over month boundaries.
	got = ServiceDate(time.Date(2015, 5, 1, 0, 30, 0, 0, ams))
	assert.Equal(t, "2015-04-30", Date(got))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2015-04-01")
	require.NoError(t, err)
	assert.Equal(t, 2015, d.Year())
	assert.Equal(t, time.April, d.Month())

	_, err = ParseDate("01-04-2015")
	assert.Error(t, err)
}
