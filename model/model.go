package model

import (
	"fmt"
	"time"
)

// Holds the service data model shared by the schedule source, the
// realtime parser, the store and the read surfaces.

// The tier a service record was read from.
const (
	SourceScheduled = "scheduled"
	SourceActual    = "actual"
	SourceIFF       = "iff"
)

type AttributeProcessing int

const (
	AttrOther AttributeProcessing = iota
	AttrBoardingOnly
	AttrUnboardingOnly
)

func (p AttributeProcessing) String() string {
	switch p {
	case AttrBoardingOnly:
		return "boarding_only"
	case AttrUnboardingOnly:
		return "unboarding_only"
	}
	return "other"
}

// ParseAttributeProcessing is the inverse of
// AttributeProcessing.String. Unknown values map to AttrOther.
func ParseAttributeProcessing(s string) AttributeProcessing {
	switch s {
	case "boarding_only":
		return AttrBoardingOnly
	case "unboarding_only":
		return AttrUnboardingOnly
	}
	return AttrOther
}

// An attribute attached to a stop, e.g. "NIIN" (no boarding).
type Attribute struct {
	Code        string
	Description string
	Processing  AttributeProcessing
}

// Service describes a unique transportation service on a certain date.
// Each service has an ID, a service number, two or more stops and
// metadata like cancellation status and the mode of transportation.
//
// A service ID need not equal the service number: wings produce
// multiple numbers sharing one physical run, and renumbering mid-route
// produces distinct numbers along one stop list.
type Service struct {
	ServiceID     string
	ServiceNumber string

	// Midnight (local) of the operational day.
	ServiceDate time.Time

	Cancelled                bool
	CompanyCode              string
	CompanyName              string
	TransportMode            string
	TransportModeDescription string

	Stops []*ServiceStop

	// Tier the record came from when read (SourceScheduled,
	// SourceActual or SourceIFF). Empty until stored/loaded.
	Source string
}

// NewService returns a Service owning its own empty stop list.
func NewService() *Service {
	return &Service{Stops: []*ServiceStop{}}
}

func (s *Service) String() string {
	return fmt.Sprintf("<Service i%s / %s%s-%s @ %s [%d stops]>",
		s.ServiceID, s.TransportMode, s.ServiceNumber,
		s.DestinationCode(), s.ServiceDateString(), len(s.Stops))
}

// ServiceDateString returns the service date as YYYY-MM-DD.
func (s *Service) ServiceDateString() string {
	return s.ServiceDate.Format("2006-01-02")
}

// Departure returns the first stop, or nil for an empty service.
func (s *Service) Departure() *ServiceStop {
	if len(s.Stops) == 0 {
		return nil
	}
	return s.Stops[0]
}

// Destination returns the last stop, or nil for an empty service.
func (s *Service) Destination() *ServiceStop {
	if len(s.Stops) == 0 {
		return nil
	}
	return s.Stops[len(s.Stops)-1]
}

// DepartureCode returns the stop code of the first stop.
func (s *Service) DepartureCode() string {
	if stop := s.Departure(); stop != nil {
		return stop.StopCode
	}
	return ""
}

// DestinationCode returns the stop code of the last stop.
func (s *Service) DestinationCode() string {
	if stop := s.Destination(); stop != nil {
		return stop.StopCode
	}
	return ""
}

// ComputeCancelled reports whether the whole service is cancelled:
// every stop has a cancelled departure, except the terminal stop which
// counts as cancelled when its arrival is.
func (s *Service) ComputeCancelled() bool {
	if len(s.Stops) == 0 {
		return false
	}
	for i, stop := range s.Stops {
		if i == len(s.Stops)-1 {
			if !stop.CancelledArrival {
				return false
			}
		} else if !stop.CancelledDeparture {
			return false
		}
	}
	return true
}

// ServiceStop describes one single stop of a service: the station, the
// arrival and departure events, platforms, delays and cancellations.
type ServiceStop struct {
	StopCode string // lowercased station code
	StopName string

	// Either may be nil: an origin has no arrival, a terminus no
	// departure. A stop with both nil is not persisted.
	ArrivalTime   *time.Time
	DepartureTime *time.Time

	ScheduledArrivalPlatform   string
	ActualArrivalPlatform      string
	ScheduledDeparturePlatform string
	ActualDeparturePlatform    string

	// Delays in whole minutes, never negative.
	ArrivalDelay   int
	DepartureDelay int

	CancelledArrival   bool
	CancelledDeparture bool

	// Service number in effect at this stop. Differs from the
	// parent service's number when wings split.
	ServiceNumber string

	Attributes []Attribute
}

func NewServiceStop(stopCode string) *ServiceStop {
	return &ServiceStop{StopCode: stopCode}
}

func (st *ServiceStop) String() string {
	return fmt.Sprintf("<ServiceStop @ %s>", st.StopCode)
}

// DeparturePlatform returns the actual departure platform when one is
// set, otherwise the scheduled platform.
func (st *ServiceStop) DeparturePlatform() string {
	if st.ActualDeparturePlatform != "" {
		return st.ActualDeparturePlatform
	}
	return st.ScheduledDeparturePlatform
}

// ArrivalPlatform returns the actual arrival platform when one is set,
// otherwise the scheduled platform.
func (st *ServiceStop) ArrivalPlatform() string {
	if st.ActualArrivalPlatform != "" {
		return st.ActualArrivalPlatform
	}
	return st.ScheduledArrivalPlatform
}

// HasTime reports whether the stop carries at least one of
// arrival/departure time. Stops without any time are dropped before
// persistence.
func (st *ServiceStop) HasTime() bool {
	return st.ArrivalTime != nil || st.DepartureTime != nil
}

// DoNotBoard reports whether any attribute forbids boarding at this
// stop (unboarding-only processing).
func (st *ServiceStop) DoNotBoard() bool {
	for _, attr := range st.Attributes {
		if attr.Processing == AttrUnboardingOnly {
			return true
		}
	}
	return false
}
