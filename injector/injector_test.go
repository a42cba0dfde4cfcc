package injector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitdata/serviceinfo/filter"
	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/storage"
)

var tz = time.FixedZone("CEST", 2*60*60)

func testService(t *testing.T, departure time.Time) *model.Service {
	t.Helper()

	s := model.NewService()
	s.ServiceID = "1234"
	s.ServiceNumber = "1234"
	s.ServiceDate = time.Date(departure.Year(), departure.Month(), departure.Day(), 0, 0, 0, 0, tz)
	s.CompanyCode = "utts"
	s.CompanyName = "Unit Testing Transport"
	s.TransportMode = "IC"
	s.TransportModeDescription = "Intercity"

	times := []time.Time{
		departure,
		departure.Add(26 * time.Minute),
		departure.Add(28 * time.Minute),
		departure.Add(50 * time.Minute),
		departure.Add(56 * time.Minute),
	}
	names := map[string]string{
		"ut": "Utrecht Centraal", "gd": "Gouda", "rtd": "Rotterdam Centraal",
		"rtb": "Rotterdam Blaak", "dt": "Delft",
	}
	for i, code := range []string{"ut", "gd", "rtb", "dt", "rtd"} {
		stop := model.NewServiceStop(code)
		stop.StopName = names[code]
		stop.ServiceNumber = "1234"
		arr := times[i]
		stop.ArrivalTime = &arr
		if i < len(times)-1 {
			dep := times[i]
			stop.DepartureTime = &dep
		}
		stop.ScheduledDeparturePlatform = "4"
		s.Stops = append(s.Stops, stop)
	}
	return s
}

func TestBuildRecord(t *testing.T) {
	departure := time.Date(2015, 4, 1, 12, 34, 0, 0, tz)
	s := testService(t, departure)
	s.Stops[0].ActualDeparturePlatform = "5a"
	s.Stops[0].DepartureDelay = 5

	record := BuildRecord(s, s.Stops[0], 3)

	assert.Equal(t, "1234", record.ServiceID)
	assert.Equal(t, "1234", record.ServiceNumber)
	assert.Equal(t, "2015-04-01", record.ServiceDate)
	assert.Equal(t, "rtd", record.DestinationCode)
	assert.Equal(t, "Rotterdam Centraal", record.DestinationText)
	assert.Equal(t, "IC", record.TransportModeCode)
	assert.Equal(t, "Intercity", record.TransportModeText)
	assert.Equal(t, "Unit Testing Transport", record.Company)
	assert.Equal(t, "ut", record.StopCode)
	assert.Equal(t, "5a", record.Platform)
	assert.Equal(t, 5, record.DepartureDelay)
	assert.Equal(t, "2015-04-01T12:34:00+02:00", record.Departure)
	assert.False(t, record.DoNotBoard)

	// Via excludes the destination; upcoming stops include it.
	assert.Equal(t, [][2]string{
		{"gd", "Gouda"}, {"rtb", "Rotterdam Blaak"}, {"dt", "Delft"},
	}, record.Via)
	assert.Equal(t, [][2]string{
		{"gd", "Gouda"}, {"rtb", "Rotterdam Blaak"}, {"dt", "Delft"},
		{"rtd", "Rotterdam Centraal"},
	}, record.UpcomingStops)
}

func TestBuildRecordMaxVia(t *testing.T) {
	departure := time.Date(2015, 4, 1, 12, 34, 0, 0, tz)
	s := testService(t, departure)

	record := BuildRecord(s, s.Stops[0], 2)
	assert.Equal(t, [][2]string{{"gd", "Gouda"}, {"rtb", "Rotterdam Blaak"}}, record.Via)

	// From the penultimate stop only the destination remains.
	record = BuildRecord(s, s.Stops[3], 2)
	assert.Empty(t, record.Via)
	assert.Equal(t, [][2]string{{"rtd", "Rotterdam Centraal"}}, record.UpcomingStops)
}

func TestBuildRecordDoNotBoard(t *testing.T) {
	departure := time.Date(2015, 4, 1, 12, 34, 0, 0, tz)
	s := testService(t, departure)
	s.Stops[0].Attributes = append(s.Stops[0].Attributes, model.Attribute{
		Code: "NIIN", Description: "Niet instappen", Processing: model.AttrUnboardingOnly,
	})

	record := BuildRecord(s, s.Stops[0], 3)
	assert.True(t, record.DoNotBoard)
}

func TestDepartures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2015, 4, 1, 12, 30, 0, 0, tz)

	store := storage.NewMemoryStore()
	require.NoError(t, store.StoreService(ctx, testService(t, now.Add(2*time.Minute)), storage.Scheduled))

	inj := New(Config{
		Window:    30,
		Selection: filter.Filter{Store: "any"},
	}, store)

	departures, err := inj.Departures(ctx, now)
	require.NoError(t, err)

	// Departures at +2 and +28 minutes fall inside the window;
	// +30 sits on the exclusive boundary, the terminal stop has
	// no departure at all.
	require.Len(t, departures, 2)
	assert.Equal(t, "ut", departures[0].Stop.StopCode)
	assert.Equal(t, "gd", departures[1].Stop.StopCode)
}

func TestDeparturesSelection(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2015, 4, 1, 12, 30, 0, 0, tz)

	store := storage.NewMemoryStore()
	require.NoError(t, store.StoreService(ctx, testService(t, now.Add(4*time.Minute)), storage.Scheduled))

	inj := New(Config{
		Window:    30,
		Selection: filter.Filter{Company: []string{"othercompany"}},
	}, store)

	departures, err := inj.Departures(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, departures)
}
