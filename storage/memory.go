package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/model"
)

// In-memory implementation of Store. Mirrors the Redis key layout
// with nested maps; payloads are kept encoded so readers always
// receive detached copies.

type memoryTier struct {
	dates   map[string]bool
	numbers map[string]map[string]bool            // date -> numbers
	ids     map[string]map[string]map[string]bool // date -> number -> ids
	details map[string]map[string]serviceRecord   // date -> id -> payload
}

func newMemoryTier() *memoryTier {
	return &memoryTier{
		dates:   map[string]bool{},
		numbers: map[string]map[string]bool{},
		ids:     map[string]map[string]map[string]bool{},
		details: map[string]map[string]serviceRecord{},
	}
}

type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[StoreType]*memoryTier
	log   *logrus.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiers: map[StoreType]*memoryTier{
			Scheduled: newMemoryTier(),
			Actual:    newMemoryTier(),
		},
		log: logrus.WithField("component", "memstore"),
	}
}

func (s *MemoryStore) StoreService(ctx context.Context, service *model.Service, st StoreType) error {
	stops := normalizeStops(service.Stops)
	if len(stops) < 2 {
		s.log.WithField("service", service.ServiceID).
			Warn("Dropping service with fewer than two usable stops")
		return nil
	}

	record, err := encodeService(service, stops)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tier := s.tiers[st]
	date := service.ServiceDateString()

	tier.dates[date] = true
	if tier.numbers[date] == nil {
		tier.numbers[date] = map[string]bool{}
	}
	tier.numbers[date][service.ServiceNumber] = true
	if tier.ids[date] == nil {
		tier.ids[date] = map[string]map[string]bool{}
	}
	if tier.ids[date][service.ServiceNumber] == nil {
		tier.ids[date][service.ServiceNumber] = map[string]bool{}
	}
	tier.ids[date][service.ServiceNumber][service.ServiceID] = true
	if tier.details[date] == nil {
		tier.details[date] = map[string]serviceRecord{}
	}
	tier.details[date][service.ServiceID] = record

	return nil
}

func (s *MemoryStore) StoreServices(ctx context.Context, services []*model.Service, st StoreType) error {
	for _, service := range services {
		if err := s.StoreService(ctx, service, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetServiceNumbers(ctx context.Context, date string, st StoreType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for _, tier := range s.selectTiers(st) {
		for number := range tier.numbers[date] {
			seen[number] = true
		}
	}

	numbers := make([]string, 0, len(seen))
	for number := range seen {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers, nil
}

func (s *MemoryStore) selectTiers(st StoreType) []*memoryTier {
	if st == ActualOrScheduled {
		return []*memoryTier{s.tiers[Actual], s.tiers[Scheduled]}
	}
	return []*memoryTier{s.tiers[st]}
}

// resolveIDs applies the actual-over-scheduled combine rule under the
// read lock.
func (s *MemoryStore) resolveIDs(date, number string, st StoreType) (StoreType, []string) {
	if st == ActualOrScheduled {
		if tier, ids := s.resolveIDs(date, number, Actual); len(ids) > 0 {
			return tier, ids
		}
		return s.resolveIDs(date, number, Scheduled)
	}

	tier := s.tiers[st]
	if tier.numbers[date] == nil || !tier.numbers[date][number] {
		return st, nil
	}
	ids := make([]string, 0, len(tier.ids[date][number]))
	for id := range tier.ids[date][number] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return st, ids
}

func (s *MemoryStore) GetService(ctx context.Context, date, number string, st StoreType) ([]*model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tier, ids := s.resolveIDs(date, number, st)
	if len(ids) == 0 {
		return nil, nil
	}

	services := make([]*model.Service, 0, len(ids))
	for _, id := range ids {
		record, ok := s.tiers[tier].details[date][id]
		if !ok {
			continue
		}
		service, err := decodeService(date, id, tier, record)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	if len(services) == 0 {
		return nil, nil
	}
	return services, nil
}

func (s *MemoryStore) GetServiceDetails(ctx context.Context, date, serviceID string, st StoreType) (*model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tiers[st].details[date][serviceID]
	if !ok {
		return nil, nil
	}
	return decodeService(date, serviceID, st, record)
}

func (s *MemoryStore) GetServiceMetadata(ctx context.Context, date, number string, st StoreType) (StoreType, []ServiceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tier, ids := s.resolveIDs(date, number, st)
	if len(ids) == 0 {
		return tier, nil, nil
	}

	summaries := make([]ServiceSummary, 0, len(ids))
	for _, id := range ids {
		record, ok := s.tiers[tier].details[date][id]
		if !ok {
			s.log.WithField("service", id).Error("No metadata for service")
			continue
		}
		summary, err := record.summary()
		if err != nil {
			s.log.WithField("service", id).WithError(err).Error("Malformed service summary")
			continue
		}
		summaries = append(summaries, ServiceSummary{ServiceID: id, Summary: summary})
	}
	return tier, summaries, nil
}

func (s *MemoryStore) GetServiceDates(ctx context.Context, st StoreType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for _, tier := range s.selectTiers(st) {
		for date := range tier.dates {
			seen[date] = true
		}
	}

	dates := make([]string, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *MemoryStore) GetServicesBetween(ctx context.Context, from, to time.Time) ([]*model.Service, error) {
	services := []*model.Service{}
	if from.After(to) {
		return services, nil
	}

	for _, date := range windowDates(from, to) {
		numbers, err := s.GetServiceNumbers(ctx, date, ActualOrScheduled)
		if err != nil {
			return nil, err
		}

		for _, number := range numbers {
			tier, summaries, err := s.GetServiceMetadata(ctx, date, number, ActualOrScheduled)
			if err != nil {
				return nil, err
			}
			for _, sum := range summaries {
				if !inWindow(sum.Summary, from, to) {
					continue
				}
				service, err := s.GetServiceDetails(ctx, date, sum.ServiceID, tier)
				if err != nil {
					return nil, err
				}
				if service != nil {
					services = append(services, service)
				}
			}
		}
	}
	return services, nil
}

func (s *MemoryStore) DeleteService(ctx context.Context, date, number string, st StoreType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier := s.tiers[st]
	if tier.numbers[date] == nil || !tier.numbers[date][number] {
		return false, nil
	}

	// The first payload's per-stop numbers extend the delete to the
	// sibling wings' index entries. Their payloads stay behind
	// unindexed, invisible to readers, until TrashStore sweeps the
	// date.
	numbers := []string{number}
	var ids []string
	for id := range tier.ids[date][number] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		if record, ok := tier.details[date][ids[0]]; ok {
			if service, err := decodeService(date, ids[0], st, record); err == nil {
				for _, n := range secondaryNumbers(service) {
					if n != number && n != "" {
						numbers = append(numbers, n)
					}
				}
			}
		}
	}

	for _, id := range ids {
		delete(tier.details[date], id)
	}
	for _, n := range numbers {
		delete(tier.ids[date], n)
		delete(tier.numbers[date], n)
	}

	if len(tier.numbers[date]) == 0 {
		delete(tier.numbers, date)
		delete(tier.ids, date)
		delete(tier.dates, date)
	}
	return true, nil
}

func (s *MemoryStore) TrashStore(ctx context.Context, date string, st StoreType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier := s.tiers[st]
	delete(tier.details, date)
	delete(tier.ids, date)
	delete(tier.numbers, date)
	delete(tier.dates, date)
	return nil
}
