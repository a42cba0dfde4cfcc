// Package storage implements the two-tier service store: a scheduled
// and an actual layer over one keyed index tree, with reads that
// prefer actual over scheduled. RedisStore is the production backend;
// MemoryStore serves tests and embedded use.
package storage

import (
	"context"
	"time"

	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/timeutil"
)

type StoreType string

const (
	Scheduled StoreType = "scheduled"
	Actual    StoreType = "actual"

	// Combined view: actual when present for a key, else scheduled.
	ActualOrScheduled StoreType = "actual_scheduled"
)

// ParseStoreType maps a config/CLI string onto a store type.
func ParseStoreType(s string) (StoreType, bool) {
	switch StoreType(s) {
	case Scheduled, Actual, ActualOrScheduled:
		return StoreType(s), true
	}
	return "", false
}

// Summary is the small per-service record backing time-window queries,
// kept separate from the stop list so GetServicesBetween does not
// rehydrate full payloads.
type Summary struct {
	ServiceNumber            string
	Cancelled                bool
	CompanyCode              string
	CompanyName              string
	TransportMode            string
	TransportModeDescription string
	FirstDeparture           *time.Time
	LastArrival              *time.Time
}

// ServiceSummary pairs a service id with its summary.
type ServiceSummary struct {
	ServiceID string
	Summary   Summary
}

// Store is the service store. All entries are addressed by
// (tier, service date, service number, service id); multiple ids per
// number are supported (wings). Implementations provide per-key
// atomicity and read-your-writes on a single key; readers receive
// detached copies.
type Store interface {
	// StoreService writes a service to a tier, replacing any prior
	// payload with the same id. Stops without any time are dropped,
	// consecutive duplicate stops collapse to the later one, and a
	// service reduced below two stops is not stored. Idempotent.
	StoreService(ctx context.Context, service *model.Service, st StoreType) error

	// StoreServices stores a batch of services.
	StoreServices(ctx context.Context, services []*model.Service, st StoreType) error

	// GetServiceNumbers lists the service numbers for a date. The
	// combined tier returns the union of both tiers.
	GetServiceNumbers(ctx context.Context, date string, st StoreType) ([]string, error)

	// GetService returns all services (wings) stored under a
	// number, or nil when the number is unknown. The combined tier
	// returns the actual list when any actual id exists, else the
	// scheduled list.
	GetService(ctx context.Context, date, number string, st StoreType) ([]*model.Service, error)

	// GetServiceDetails returns one service payload by id, or nil
	// when absent.
	GetServiceDetails(ctx context.Context, date, serviceID string, st StoreType) (*model.Service, error)

	// GetServiceMetadata returns the chosen tier and the summaries
	// for all ids under a number. Ids whose summary is missing are
	// skipped.
	GetServiceMetadata(ctx context.Context, date, number string, st StoreType) (StoreType, []ServiceSummary, error)

	// GetServiceDates lists all service dates present in a tier
	// (union for the combined tier).
	GetServiceDates(ctx context.Context, st StoreType) ([]string, error)

	// GetServicesBetween returns services from the combined view
	// whose first departure or last arrival falls inside [from, to].
	// Empty when from is after to.
	GetServicesBetween(ctx context.Context, from, to time.Time) ([]*model.Service, error)

	// DeleteService removes all ids under a number, including the
	// index entries of any per-stop secondary numbers the deleted
	// services carried (wings cleanup). Reports whether the number
	// existed.
	DeleteService(ctx context.Context, date, number string, st StoreType) (bool, error)

	// TrashStore deletes every entry keyed under (tier, date).
	TrashStore(ctx context.Context, date string, st StoreType) error
}

// normalizeStops enforces the persistence invariants on a stop list:
// stops without any time are dropped and consecutive duplicates (same
// stop code) collapse to the later of the two.
func normalizeStops(stops []*model.ServiceStop) []*model.ServiceStop {
	out := make([]*model.ServiceStop, 0, len(stops))
	for _, stop := range stops {
		if !stop.HasTime() {
			continue
		}
		if n := len(out); n > 0 && out[n-1].StopCode == stop.StopCode {
			out = out[:n-1]
		}
		out = append(out, stop)
	}
	return out
}

// windowDates returns the candidate service dates for a time window,
// per the 04:00 operational-day rule. The window may straddle the
// cutoff, in which case both days are scanned.
func windowDates(from, to time.Time) []string {
	dates := []string{timeutil.Date(timeutil.ServiceDate(from))}
	if d := timeutil.Date(timeutil.ServiceDate(to)); d != dates[0] {
		dates = append(dates, d)
	}
	return dates
}

// inWindow reports whether a summary's first departure or last arrival
// falls inside [from, to].
func inWindow(sum Summary, from, to time.Time) bool {
	between := func(t *time.Time) bool {
		return t != nil && !t.Before(from) && !t.After(to)
	}
	return between(sum.FirstDeparture) || between(sum.LastArrival)
}

// StoredServices computes the stored-services gauge for a tier: the
// sum over all dates of the number of service numbers.
func StoredServices(ctx context.Context, store Store, st StoreType) (int, error) {
	dates, err := store.GetServiceDates(ctx, st)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, date := range dates {
		numbers, err := store.GetServiceNumbers(ctx, date, st)
		if err != nil {
			return 0, err
		}
		total += len(numbers)
	}
	return total, nil
}
