package arnu

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Resolver returning canned names without a database.
type fakeResolver struct {
	stations map[string]string
	err      error
}

func (r *fakeResolver) StationName(ctx context.Context, code string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.stations[code], nil
}

func (r *fakeResolver) CompanyName(ctx context.Context, code string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "NS Reizigers", nil
}

func (r *fakeResolver) TransportMode(ctx context.Context, code string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "Intercity", nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{stations: map[string]string{
		"ut":  "Utrecht Centraal",
		"gd":  "Gouda",
		"rtd": "Rotterdam Centraal",
		"bd":  "Breda",
	}}
}

func stopXML(code, number, arrival, departure, stopType string) string {
	attr := ""
	if stopType != "" {
		attr = fmt.Sprintf(` StopType=%q`, stopType)
	}
	return fmt.Sprintf(`<Stop%s>
  <StopCode>%s</StopCode>
  <StopServiceCode>%s</StopServiceCode>
  <Arrival>%s</Arrival>
  <Departure>%s</Departure>
  <ArrivalTimeDelay></ArrivalTimeDelay>
  <DepartureTimeDelay>PT5M</DepartureTimeDelay>
  <DeparturePlatform>4</DeparturePlatform>
  <ActualDeparturePlatform>5</ActualDeparturePlatform>
</Stop>`, attr, code, number, arrival, departure)
}

func envelopeXML(infoAttr string, stops ...string) []byte {
	doc := `<PutServiceInfoIn><ServiceInfoList><ServiceInfo` + infoAttr + `>
<ServiceCode>1750</ServiceCode>
<CompanyCode>NS</CompanyCode>
<TransportModeCode>IC</TransportModeCode>
<StopList>`
	for _, s := range stops {
		doc += s
	}
	doc += `</StopList></ServiceInfo></ServiceInfoList></PutServiceInfoIn>`
	return []byte(doc)
}

func TestParseMessageSingleService(t *testing.T) {
	doc := envelopeXML("",
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", ""),
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", ""),
	)

	updates, err := ParseMessage(context.Background(), doc, newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)

	update := updates[0]
	assert.False(t, update.Remove)

	s := update.Service
	assert.Equal(t, "1750-ut-rtd", s.ServiceID)
	assert.Equal(t, "1750", s.ServiceNumber)
	assert.Equal(t, "2015-04-01", s.ServiceDateString())
	assert.Equal(t, "NS", s.CompanyCode)
	assert.Equal(t, "NS Reizigers", s.CompanyName)
	assert.Equal(t, "IC", s.TransportMode)
	assert.Equal(t, "Intercity", s.TransportModeDescription)
	assert.False(t, s.Cancelled)

	require.Len(t, s.Stops, 2)
	ut := s.Stops[0]
	assert.Equal(t, "ut", ut.StopCode)
	assert.Equal(t, "Utrecht Centraal", ut.StopName)
	assert.Equal(t, 5, ut.DepartureDelay)
	assert.Equal(t, 0, ut.ArrivalDelay)
	assert.Equal(t, "5", ut.DeparturePlatform())
	require.NotNil(t, ut.DepartureTime)
	assert.Equal(t, 12, ut.DepartureTime.Hour())
}

func TestParseMessageServiceDateBeforeCutoff(t *testing.T) {
	// Departure at 00:30 belongs to the previous operational day.
	doc := envelopeXML("",
		stopXML("UT", "1750", "", "2015-04-02T00:30:00+02:00", ""),
		stopXML("RTD", "1750", "2015-04-02T01:30:00+02:00", "", ""),
	)

	updates, err := ParseMessage(context.Background(), doc, newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "2015-04-01", updates[0].Service.ServiceDateString())
}

func TestParseMessageWings(t *testing.T) {
	doc := envelopeXML("",
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", ""),
		stopXML("GD", "12850", "2015-04-01T13:00:00+02:00", "2015-04-01T13:02:00+02:00", ""),
		stopXML("RTD", "12850", "2015-04-01T14:30:00+02:00", "", ""),
	)

	updates, err := ParseMessage(context.Background(), doc, newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, "1750", updates[0].Service.ServiceNumber)
	assert.Equal(t, "1750-ut-rtd", updates[0].Service.ServiceID)
	assert.Equal(t, "12850", updates[1].Service.ServiceNumber)
	assert.Equal(t, "12850-ut-rtd", updates[1].Service.ServiceID)

	// Both wings carry the full stop list with per-stop numbers.
	for _, u := range updates {
		require.Len(t, u.Service.Stops, 3)
		assert.Equal(t, "1750", u.Service.Stops[0].ServiceNumber)
		assert.Equal(t, "12850", u.Service.Stops[1].ServiceNumber)
	}
}

func TestParseMessageCancelledPropagation(t *testing.T) {
	doc := envelopeXML("",
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", ""),
		stopXML("BD", "1750", "2015-04-01T13:00:00+02:00", "2015-04-01T13:02:00+02:00", "Cancelled-Stop"),
		stopXML("GD", "1750", "2015-04-01T13:20:00+02:00", "2015-04-01T13:22:00+02:00", "Diverted-Stop"),
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", ""),
	)

	updates, err := ParseMessage(context.Background(), doc, newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)

	stops := updates[0].Service.Stops
	require.Len(t, stops, 4)

	assert.False(t, stops[0].CancelledDeparture)
	assert.True(t, stops[1].CancelledDeparture)
	assert.False(t, stops[1].CancelledArrival)
	assert.True(t, stops[2].CancelledArrival)
	assert.True(t, stops[2].CancelledDeparture)
	// The carry reaches the next normal stop's arrival, then clears.
	assert.True(t, stops[3].CancelledArrival)
	assert.False(t, stops[3].CancelledDeparture)
	assert.False(t, updates[0].Service.Cancelled)
}

func TestParseMessageRemove(t *testing.T) {
	cancelled := []string{
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", "Cancelled-Stop"),
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", "Cancelled-Stop"),
	}

	// Fully cancelled without the explicit indicator: still stored.
	updates, err := ParseMessage(context.Background(), envelopeXML("", cancelled...), newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Remove)
	assert.True(t, updates[0].Service.Cancelled)

	// With Type="Remove": removed.
	updates, err = ParseMessage(context.Background(), envelopeXML(` Type="Remove"`, cancelled...), newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Remove)

	// Remove indicator on a running service is ignored.
	running := []string{
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", ""),
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", ""),
	}
	updates, err = ParseMessage(context.Background(), envelopeXML(` Type="Remove"`, running...), newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Remove)
}

func TestParseMessageBadXML(t *testing.T) {
	_, err := ParseMessage(context.Background(), []byte("not xml at all <"), newFakeResolver())
	assert.Error(t, err)
}

func TestParseMessageSkipsMalformedItem(t *testing.T) {
	// First item lacks stops, second is fine; the batch survives.
	doc := []byte(`<PutServiceInfoIn><ServiceInfoList>
<ServiceInfo>
  <ServiceCode>666</ServiceCode>
  <CompanyCode>NS</CompanyCode>
  <TransportModeCode>IC</TransportModeCode>
  <StopList></StopList>
</ServiceInfo>
<ServiceInfo>
  <ServiceCode>1750</ServiceCode>
  <CompanyCode>NS</CompanyCode>
  <TransportModeCode>IC</TransportModeCode>
  <StopList>` +
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", "") +
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", "") +
		`</StopList>
</ServiceInfo>
</ServiceInfoList></PutServiceInfoIn>`)

	updates, err := ParseMessage(context.Background(), doc, newFakeResolver())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "1750-ut-rtd", updates[0].Service.ServiceID)
}

func TestParseMessageResolverFailureAborts(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = fmt.Errorf("connection refused")

	doc := envelopeXML("",
		stopXML("UT", "1750", "", "2015-04-01T12:34:00+02:00", ""),
		stopXML("RTD", "1750", "2015-04-01T14:30:00+02:00", "", ""),
	)
	_, err := ParseMessage(context.Background(), doc, resolver)
	assert.Error(t, err)
}
