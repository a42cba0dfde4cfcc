// Package arnu parses realtime service-update envelopes. One inbound
// XML document yields zero or more service updates, each either a
// store or a remove against the actual tier.
package arnu

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/timeutil"
)

var log = logrus.WithField("component", "arnu")

// Resolver looks up descriptions for the codes carried in an
// envelope. Implemented by iff.Source.
type Resolver interface {
	StationName(ctx context.Context, code string) (string, error)
	CompanyName(ctx context.Context, code string) (string, error)
	TransportMode(ctx context.Context, code string) (string, error)
}

// ServiceUpdate is one parsed service with its action: store the
// service, or remove it from the actual tier.
type ServiceUpdate struct {
	Service *model.Service
	Remove  bool
}

type envelope struct {
	XMLName xml.Name
	Items   []serviceInfo `xml:"ServiceInfoList>ServiceInfo"`
}

type serviceInfo struct {
	// Explicit message-level action indicator. A fully cancelled
	// service is removed only when Type is "Remove"; without it the
	// cancellation is still displayed.
	Type string `xml:"Type,attr"`

	ServiceCode       string     `xml:"ServiceCode"`
	CompanyCode       string     `xml:"CompanyCode"`
	TransportModeCode string     `xml:"TransportModeCode"`
	Stops             []stopInfo `xml:"StopList>Stop"`
}

type stopInfo struct {
	StopType                string `xml:"StopType,attr"`
	StopCode                string `xml:"StopCode"`
	StopServiceCode         string `xml:"StopServiceCode"`
	Arrival                 string `xml:"Arrival"`
	Departure               string `xml:"Departure"`
	ArrivalTimeDelay        string `xml:"ArrivalTimeDelay"`
	DepartureTimeDelay      string `xml:"DepartureTimeDelay"`
	ArrivalPlatform         string `xml:"ArrivalPlatform"`
	ActualArrivalPlatform   string `xml:"ActualArrivalPlatform"`
	DeparturePlatform       string `xml:"DeparturePlatform"`
	ActualDeparturePlatform string `xml:"ActualDeparturePlatform"`
}

// ParseMessage parses one envelope. An unparseable document returns
// an error; a malformed service inside an otherwise valid envelope is
// skipped without aborting the batch. Resolver failures abort the
// message (the caller retries by reprocessing or drops it).
func ParseMessage(ctx context.Context, doc []byte, resolver Resolver) ([]ServiceUpdate, error) {
	var env envelope
	if err := xml.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("parsing service info envelope: %w", err)
	}

	updates := []ServiceUpdate{}
	seen := map[string]bool{}

	for i := range env.Items {
		parsed, err := parseServiceInfo(ctx, &env.Items[i], resolver, seen)
		if err != nil {
			if isResolverError(err) {
				return nil, err
			}
			log.WithField("service", env.Items[i].ServiceCode).
				WithError(err).Error("Skipping malformed service info")
			continue
		}
		updates = append(updates, parsed...)
		for _, u := range parsed {
			seen[u.Service.ServiceID] = true
		}
	}
	return updates, nil
}

// resolverError marks lookup failures so they abort the whole message
// instead of silently dropping one service.
type resolverError struct{ err error }

func (e resolverError) Error() string { return e.err.Error() }
func (e resolverError) Unwrap() error { return e.err }

func isResolverError(err error) bool {
	_, ok := err.(resolverError)
	return ok
}

func parseServiceInfo(ctx context.Context, info *serviceInfo, resolver Resolver, seen map[string]bool) ([]ServiceUpdate, error) {
	if info.ServiceCode == "" {
		return nil, fmt.Errorf("service info without ServiceCode")
	}
	if len(info.Stops) == 0 {
		return nil, fmt.Errorf("service %s has no stops", info.ServiceCode)
	}

	companyName, err := resolver.CompanyName(ctx, info.CompanyCode)
	if err != nil {
		return nil, resolverError{fmt.Errorf("resolving company %s: %w", info.CompanyCode, err)}
	}
	modeDescription, err := resolver.TransportMode(ctx, info.TransportModeCode)
	if err != nil {
		return nil, resolverError{fmt.Errorf("resolving transport mode %s: %w", info.TransportModeCode, err)}
	}

	var serviceDate *time.Time
	var numbers []string
	numberSeen := map[string]bool{}
	stops := make([]*model.ServiceStop, 0, len(info.Stops))

	// A cancelled departure carries into the next stop's arrival
	// until the service resumes at a normal stop.
	carryCancelled := false

	for i := range info.Stops {
		si := &info.Stops[i]
		code := strings.ToLower(si.StopCode)

		if !numberSeen[si.StopServiceCode] {
			numberSeen[si.StopServiceCode] = true
			numbers = append(numbers, si.StopServiceCode)
		}

		stop := model.NewServiceStop(code)
		if stop.ArrivalTime, err = timeutil.ParseISO8601(si.Arrival); err != nil {
			return nil, fmt.Errorf("stop %s: %w", code, err)
		}
		if stop.DepartureTime, err = timeutil.ParseISO8601(si.Departure); err != nil {
			return nil, fmt.Errorf("stop %s: %w", code, err)
		}
		stop.ArrivalDelay = timeutil.ParseISODelay(si.ArrivalTimeDelay)
		stop.DepartureDelay = timeutil.ParseISODelay(si.DepartureTimeDelay)
		stop.ScheduledArrivalPlatform = si.ArrivalPlatform
		stop.ActualArrivalPlatform = si.ActualArrivalPlatform
		stop.ScheduledDeparturePlatform = si.DeparturePlatform
		stop.ActualDeparturePlatform = si.ActualDeparturePlatform
		stop.ServiceNumber = si.StopServiceCode

		if stop.StopName, err = resolver.StationName(ctx, code); err != nil {
			return nil, resolverError{fmt.Errorf("resolving station %s: %w", code, err)}
		}

		// The operational day comes from the first stop's
		// departure, cancelled or not.
		if serviceDate == nil && stop.DepartureTime != nil {
			d := timeutil.ServiceDate(*stop.DepartureTime)
			serviceDate = &d
		}

		cancelled := si.StopType == "Cancelled-Stop" || si.StopType == "Diverted-Stop"
		if cancelled {
			log.WithFields(logrus.Fields{
				"stop":    code,
				"service": info.ServiceCode,
			}).Debug("Cancelled or diverted stop")
		}

		stop.CancelledArrival = carryCancelled
		if cancelled {
			stop.CancelledDeparture = true
			carryCancelled = true
		} else {
			carryCancelled = false
		}

		stops = append(stops, stop)
	}

	if serviceDate == nil {
		return nil, fmt.Errorf("service %s has no departure times", info.ServiceCode)
	}

	allCancelled := true
	for _, stop := range stops {
		if !stop.CancelledDeparture {
			allCancelled = false
			break
		}
	}
	remove := allCancelled && info.Type == "Remove"

	updates := []ServiceUpdate{}
	for _, number := range numbers {
		serviceID := fmt.Sprintf("%s-%s-%s", number, stops[0].StopCode, stops[len(stops)-1].StopCode)
		if seen[serviceID] {
			log.WithField("service_id", serviceID).Warn("Service ID already in use, skipping")
			continue
		}

		service := model.NewService()
		service.ServiceID = serviceID
		service.ServiceDate = *serviceDate
		service.ServiceNumber = number
		service.CompanyCode = info.CompanyCode
		service.CompanyName = companyName
		service.TransportMode = info.TransportModeCode
		service.TransportModeDescription = modeDescription
		service.Stops = append(service.Stops, stops...)
		service.Cancelled = service.ComputeCancelled()

		updates = append(updates, ServiceUpdate{Service: service, Remove: remove})
	}
	return updates, nil
}
