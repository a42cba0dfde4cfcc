package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitdata/serviceinfo/model"
)

func testService() *model.Service {
	s := model.NewService()
	s.ServiceNumber = "1750"
	s.CompanyCode = "NS"
	s.TransportMode = "IC"
	s.Source = model.SourceActual
	s.Stops = []*model.ServiceStop{
		model.NewServiceStop("ut"),
		model.NewServiceStop("gd"),
		model.NewServiceStop("rtd"),
	}
	return s
}

func TestMatchEmptyFilter(t *testing.T) {
	assert.False(t, Match(testService(), Filter{}))
}

func TestMatchCompany(t *testing.T) {
	s := testService()
	assert.True(t, Match(s, Filter{Company: []string{"ns"}}))
	assert.True(t, Match(s, Filter{Company: []string{"DB", "NS"}}))
	assert.False(t, Match(s, Filter{Company: []string{"DB"}}))
}

func TestMatchServiceRange(t *testing.T) {
	s := testService()
	assert.True(t, Match(s, Filter{Service: [][2]int{{1700, 1799}}}))
	assert.True(t, Match(s, Filter{Service: [][2]int{{1, 2}, {1750, 1750}}}))
	assert.False(t, Match(s, Filter{Service: [][2]int{{1800, 1899}}}))

	// Synthetic non-numeric numbers never match a range.
	s.ServiceNumber = "i12345"
	assert.False(t, Match(s, Filter{Service: [][2]int{{0, 99999}}}))
}

func TestMatchTransportMode(t *testing.T) {
	s := testService()
	assert.True(t, Match(s, Filter{TransportMode: []string{"ic"}}))
	assert.False(t, Match(s, Filter{TransportMode: []string{"SPR"}}))
}

func TestMatchStop(t *testing.T) {
	s := testService()
	assert.True(t, Match(s, Filter{Stop: []string{"gd"}}))
	assert.False(t, Match(s, Filter{Stop: []string{"asd"}}))
}

func TestMatchStore(t *testing.T) {
	s := testService()
	assert.True(t, Match(s, Filter{Store: "actual"}))
	assert.True(t, Match(s, Filter{Store: "any"}))
	assert.False(t, Match(s, Filter{Store: "scheduled"}))
}

func TestIsIncluded(t *testing.T) {
	s := testService()

	// No exclusion: included.
	assert.True(t, IsIncluded(s, Config{}))

	// Excluded by company.
	cfg := Config{Exclude: Filter{Company: []string{"NS"}}}
	assert.False(t, IsIncluded(s, cfg))

	// Whitelist overrides blacklist.
	cfg.Include = Filter{Service: [][2]int{{1750, 1750}}}
	assert.True(t, IsIncluded(s, cfg))

	// Identical include and exclude: included.
	f := Filter{Company: []string{"NS"}}
	assert.True(t, IsIncluded(s, Config{Include: f, Exclude: f}))
}

func TestDepartureTimeWindow(t *testing.T) {
	ref := time.Date(2015, 4, 1, 12, 0, 0, 0, time.UTC)

	stop := model.NewServiceStop("ut")
	assert.False(t, DepartureTimeWindow(stop, 60, ref))

	dep := ref.Add(30 * time.Minute)
	stop.DepartureTime = &dep
	assert.True(t, DepartureTimeWindow(stop, 60, ref))
	assert.False(t, DepartureTimeWindow(stop, 30, ref))

	// Departure exactly at the reference is inside the window.
	dep = ref
	assert.True(t, DepartureTimeWindow(stop, 60, ref))

	// Already departed, even with delay applied.
	dep = ref.Add(-10 * time.Minute)
	assert.False(t, DepartureTimeWindow(stop, 60, ref))

	// Delay pushes the departure back into the window.
	stop.DepartureDelay = 15
	assert.True(t, DepartureTimeWindow(stop, 60, ref))

	// Delay pushes it past the end of the window.
	stop.DepartureDelay = 75
	assert.False(t, DepartureTimeWindow(stop, 60, ref))
}
