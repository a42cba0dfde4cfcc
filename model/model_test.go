package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(hour, min int) *time.Time {
	t := time.Date(2015, 4, 1, hour, min, 0, 0, time.UTC)
	return &t
}

func TestServiceOwnsStops(t *testing.T) {
	// Two services must never share a stop list.
	a := NewService()
	b := NewService()
	a.Stops = append(a.Stops, NewServiceStop("ut"))
	assert.Len(t, a.Stops, 1)
	assert.Len(t, b.Stops, 0)
}

func TestServiceAccessors(t *testing.T) {
	s := NewService()
	s.ServiceDate = time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, s.Departure())
	assert.Nil(t, s.Destination())
	assert.Equal(t, "", s.DestinationCode())

	s.Stops = append(s.Stops,
		NewServiceStop("ut"),
		NewServiceStop("asd"),
		NewServiceStop("rtd"),
	)

	assert.Equal(t, "2015-04-01", s.ServiceDateString())
	assert.Equal(t, "ut", s.DepartureCode())
	assert.Equal(t, "rtd", s.DestinationCode())
	assert.Equal(t, "rtd", s.Destination().StopCode)
}

func TestDeparturePlatform(t *testing.T) {
	stop := NewServiceStop("ut")
	assert.Equal(t, "", stop.DeparturePlatform())

	stop.ScheduledDeparturePlatform = "14b"
	assert.Equal(t, "14b", stop.DeparturePlatform())

	stop.ActualDeparturePlatform = "15"
	assert.Equal(t, "15", stop.DeparturePlatform())

	stop.ScheduledArrivalPlatform = "5"
	assert.Equal(t, "5", stop.ArrivalPlatform())
	stop.ActualArrivalPlatform = "7"
	assert.Equal(t, "7", stop.ArrivalPlatform())
}

func TestComputeCancelled(t *testing.T) {
	s := NewService()
	assert.False(t, s.ComputeCancelled())

	s.Stops = []*ServiceStop{
		{StopCode: "ut", CancelledDeparture: true},
		{StopCode: "asd", CancelledArrival: true, CancelledDeparture: true},
		{StopCode: "rtd", CancelledArrival: true},
	}
	assert.True(t, s.ComputeCancelled())

	// A running final leg means the service is not fully cancelled.
	s.Stops[2].CancelledArrival = false
	assert.False(t, s.ComputeCancelled())

	s.Stops[2].CancelledArrival = true
	s.Stops[0].CancelledDeparture = false
	assert.False(t, s.ComputeCancelled())
}

func TestHasTime(t *testing.T) {
	stop := NewServiceStop("asd")
	assert.False(t, stop.HasTime())

	stop.ArrivalTime = ts(13, 37)
	assert.True(t, stop.HasTime())

	stop = NewServiceStop("asd")
	stop.DepartureTime = ts(13, 34)
	assert.True(t, stop.HasTime())
}

func TestDoNotBoard(t *testing.T) {
	stop := NewServiceStop("asd")
	assert.False(t, stop.DoNotBoard())

	stop.Attributes = append(stop.Attributes, Attribute{
		Code: "BHV", Description: "Bicycles allowed", Processing: AttrOther,
	})
	assert.False(t, stop.DoNotBoard())

	stop.Attributes = append(stop.Attributes, Attribute{
		Code: "NIIN", Description: "No boarding", Processing: AttrUnboardingOnly,
	})
	assert.True(t, stop.DoNotBoard())
}

func TestAttributeProcessingRoundTrip(t *testing.T) {
	for _, p := range []AttributeProcessing{AttrOther, AttrBoardingOnly, AttrUnboardingOnly} {
		assert.Equal(t, p, ParseAttributeProcessing(p.String()))
	}
	assert.Equal(t, AttrOther, ParseAttributeProcessing("mystery"))
}
