// Package filter implements inclusion/exclusion predicates over
// services and stops, driving the scheduler whitelist, the HTTP
// fallback and the injector's departure selection.
package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/transitdata/serviceinfo/model"
)

// A Filter matches a service when any of its non-empty keys matches.
// The zero value matches nothing. Loads directly from YAML config.
type Filter struct {
	// Company codes, case-insensitive.
	Company []string `yaml:"company"`

	// Closed numeric ranges [lo, hi] over the service number.
	Service [][2]int `yaml:"service"`

	// Transport mode codes, case-insensitive.
	TransportMode []string `yaml:"transport_mode"`

	// Stop codes; matches when any stop of the service has one.
	Stop []string `yaml:"stop"`

	// Tier filter: "actual", "scheduled" or "any".
	Store string `yaml:"store"`
}

// Config pairs an include and an exclude filter. The whitelist
// overrides the blacklist: a service matched by Exclude is still
// included when Include matches it too.
type Config struct {
	Include Filter `yaml:"include"`
	Exclude Filter `yaml:"exclude"`
}

// Match reports whether the service matches at least one non-empty
// filter key.
func Match(service *model.Service, f Filter) bool {
	if containsFold(f.Company, service.CompanyCode) {
		return true
	}

	if len(f.Service) > 0 {
		if number, err := strconv.Atoi(service.ServiceNumber); err == nil {
			for _, r := range f.Service {
				if number >= r[0] && number <= r[1] {
					return true
				}
			}
		}
	}

	if containsFold(f.TransportMode, service.TransportMode) {
		return true
	}

	if len(f.Stop) > 0 {
		for _, stop := range service.Stops {
			if containsFold(f.Stop, stop.StopCode) {
				return true
			}
		}
	}

	switch f.Store {
	case "any":
		if service.Source != "" {
			return true
		}
	case model.SourceActual, model.SourceScheduled:
		if service.Source == f.Store {
			return true
		}
	}

	return false
}

// IsIncluded applies cfg to a service: excluded services are dropped
// unless the include filter matches them as well.
func IsIncluded(service *model.Service, cfg Config) bool {
	if !Match(service, cfg.Exclude) {
		return true
	}
	return Match(service, cfg.Include)
}

// DepartureTimeWindow reports whether the stop's delayed departure
// falls inside [reference, reference+minutes). Stops that already
// departed, delay included, are excluded; so are stops without a
// departure time.
func DepartureTimeWindow(stop *model.ServiceStop, minutes int, reference time.Time) bool {
	if stop.DepartureTime == nil {
		return false
	}

	departure := stop.DepartureTime.Add(time.Duration(stop.DepartureDelay) * time.Minute)
	if departure.Before(reference) {
		return false
	}
	return departure.Before(reference.Add(time.Duration(minutes) * time.Minute))
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
