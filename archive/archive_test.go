package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitdata/serviceinfo/model"
)

func testService() *model.Service {
	tz := time.FixedZone("CEST", 2*60*60)

	s := model.NewService()
	s.ServiceID = "1234"
	s.ServiceNumber = "1234"
	s.ServiceDate = time.Date(2015, 4, 1, 0, 0, 0, 0, tz)
	s.CompanyCode = "utts"
	s.TransportMode = "IC"
	s.Source = model.SourceActual

	dep := time.Date(2015, 4, 1, 12, 34, 0, 0, tz)
	arr := time.Date(2015, 4, 1, 14, 30, 0, 0, tz)

	ut := model.NewServiceStop("ut")
	ut.DepartureTime = &dep
	rtd := model.NewServiceStop("rtd")
	rtd.ArrivalTime = &arr
	s.Stops = append(s.Stops, ut, rtd)
	return s
}

func TestBuildPayload(t *testing.T) {
	s := testService()
	payload := buildPayload(s)

	assert.Equal(t, "2015-04-01", payload.ServiceDate)
	assert.Equal(t, "1234", payload.ServiceNumber)
	assert.Equal(t, "utts", payload.Company)
	assert.Equal(t, "IC", payload.TransportMode)
	assert.Equal(t, "ut", payload.From)
	assert.Equal(t, "rtd", payload.To)
	assert.Equal(t, "actual", payload.Source)
	assert.False(t, payload.Cancelled)
	assert.False(t, payload.PartlyCancelled)
	assert.Equal(t, 0, payload.MaxDelay)
}

func TestBuildPayloadDelaysAndCancellations(t *testing.T) {
	s := testService()
	s.Stops[0].DepartureDelay = 5
	s.Stops[1].ArrivalDelay = 12
	payload := buildPayload(s)
	assert.Equal(t, 12, payload.MaxDelay)
	assert.False(t, payload.PartlyCancelled)

	s.Stops[1].CancelledArrival = true
	payload = buildPayload(s)
	assert.True(t, payload.PartlyCancelled)
	assert.False(t, payload.Cancelled)
}
