package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/model"
)

// RedisConfig is the schedule_store section of the configuration.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database int    `yaml:"database"`
	Password string `yaml:"password"`
}

func (c RedisConfig) addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// RedisStore is the production Store backend. Index sets and payload
// hashes follow a fixed key layout:
//
//	services:<tier>:date             set of service dates
//	services:<tier>:<date>           set of service numbers
//	services:<tier>:<date>:<number>  set of service ids
//	schedule:<tier>:<date>           set of service ids
//	schedule:<tier>:<date>:<id>:info payload hash
//
// Multi-key consistency is delete-before-write; readers treat index
// entries pointing at a missing payload as not found.
type RedisStore struct {
	client *redis.Client
	log    *logrus.Entry
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.addr(),
			Password: cfg.Password,
			DB:       cfg.Database,
		}),
		log: logrus.WithField("component", "store"),
	}
}

// Client exposes the underlying connection, shared with the stats
// counters.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func datesKey(st StoreType) string {
	return fmt.Sprintf("services:%s:date", st)
}

func numbersKey(st StoreType, date string) string {
	return fmt.Sprintf("services:%s:%s", st, date)
}

func idsKey(st StoreType, date, number string) string {
	return fmt.Sprintf("services:%s:%s:%s", st, date, number)
}

func scheduleKey(st StoreType, date string) string {
	return fmt.Sprintf("schedule:%s:%s", st, date)
}

func infoKey(st StoreType, date, serviceID string) string {
	return fmt.Sprintf("schedule:%s:%s:%s:info", st, date, serviceID)
}

var summaryFields = []string{
	"servicenumber", "cancelled", "company_code", "company_name",
	"transport_mode", "transport_mode_description",
	"first_departure", "last_arrival",
}

func (r serviceRecord) hashFields() map[string]interface{} {
	return map[string]interface{}{
		"cancelled":                  strconv.FormatBool(r.Cancelled),
		"company_code":               r.CompanyCode,
		"company_name":               r.CompanyName,
		"transport_mode":             r.TransportMode,
		"transport_mode_description": r.TransportModeDescription,
		"servicenumber":              r.ServiceNumber,
		"first_departure":            r.FirstDeparture,
		"last_arrival":               r.LastArrival,
		"stops":                      r.Stops,
	}
}

func recordFromHash(fields map[string]string) serviceRecord {
	cancelled, _ := strconv.ParseBool(fields["cancelled"])
	return serviceRecord{
		Cancelled:                cancelled,
		CompanyCode:              fields["company_code"],
		CompanyName:              fields["company_name"],
		TransportMode:            fields["transport_mode"],
		TransportModeDescription: fields["transport_mode_description"],
		ServiceNumber:            fields["servicenumber"],
		FirstDeparture:           fields["first_departure"],
		LastArrival:              fields["last_arrival"],
		Stops:                    fields["stops"],
	}
}

func (s *RedisStore) StoreService(ctx context.Context, service *model.Service, st StoreType) error {
	stops := normalizeStops(service.Stops)
	if len(stops) < 2 {
		s.log.WithFields(logrus.Fields{
			"service": service.ServiceID,
			"date":    service.ServiceDateString(),
		}).Warn("Dropping service with fewer than two usable stops")
		return nil
	}

	record, err := encodeService(service, stops)
	if err != nil {
		return err
	}

	date := service.ServiceDateString()

	if err := s.client.SAdd(ctx, datesKey(st), date).Err(); err != nil {
		return errors.Wrap(err, "adding service date")
	}
	if err := s.client.SAdd(ctx, numbersKey(st, date), service.ServiceNumber).Err(); err != nil {
		return errors.Wrap(err, "adding service number")
	}

	// Full overwrite: an existing payload for this id is deleted
	// before the new one is written, never merged.
	exists, err := s.client.SIsMember(ctx, idsKey(st, date, service.ServiceNumber), service.ServiceID).Result()
	if err != nil {
		return errors.Wrap(err, "checking service id")
	}
	if exists {
		if err := s.deleteServiceID(ctx, date, service.ServiceID, st); err != nil {
			return err
		}
	}

	if err := s.client.SAdd(ctx, idsKey(st, date, service.ServiceNumber), service.ServiceID).Err(); err != nil {
		return errors.Wrap(err, "adding service id")
	}
	if err := s.client.SAdd(ctx, scheduleKey(st, date), service.ServiceID).Err(); err != nil {
		return errors.Wrap(err, "adding schedule id")
	}

	key := infoKey(st, date, service.ServiceID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "clearing service payload")
	}
	if err := s.client.HSet(ctx, key, record.hashFields()).Err(); err != nil {
		return errors.Wrap(err, "writing service payload")
	}
	return nil
}

func (s *RedisStore) StoreServices(ctx context.Context, services []*model.Service, st StoreType) error {
	for _, service := range services {
		if err := s.StoreService(ctx, service, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) GetServiceNumbers(ctx context.Context, date string, st StoreType) ([]string, error) {
	if st == ActualOrScheduled {
		numbers, err := s.client.SUnion(ctx,
			numbersKey(Actual, date), numbersKey(Scheduled, date)).Result()
		return numbers, errors.Wrap(err, "listing service numbers")
	}
	numbers, err := s.client.SMembers(ctx, numbersKey(st, date)).Result()
	return numbers, errors.Wrap(err, "listing service numbers")
}

// getServiceIDs resolves the ids stored under a number, applying the
// actual-over-scheduled combine rule. Returns an empty id list when
// the number is unknown in the requested tier(s).
func (s *RedisStore) getServiceIDs(ctx context.Context, date, number string, st StoreType) (StoreType, []string, error) {
	if st == ActualOrScheduled {
		tier, ids, err := s.getServiceIDs(ctx, date, number, Actual)
		if err != nil || len(ids) > 0 {
			return tier, ids, err
		}
		return s.getServiceIDs(ctx, date, number, Scheduled)
	}

	known, err := s.client.SIsMember(ctx, numbersKey(st, date), number).Result()
	if err != nil {
		return st, nil, errors.Wrap(err, "checking service number")
	}
	if !known {
		return st, nil, nil
	}

	ids, err := s.client.SMembers(ctx, idsKey(st, date, number)).Result()
	return st, ids, errors.Wrap(err, "listing service ids")
}

func (s *RedisStore) GetService(ctx context.Context, date, number string, st StoreType) ([]*model.Service, error) {
	tier, ids, err := s.getServiceIDs(ctx, date, number, st)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	services := make([]*model.Service, 0, len(ids))
	for _, id := range ids {
		service, err := s.GetServiceDetails(ctx, date, id, tier)
		if err != nil {
			return nil, err
		}
		if service == nil {
			// Transient index entry without payload.
			continue
		}
		services = append(services, service)
	}
	if len(services) == 0 {
		return nil, nil
	}
	return services, nil
}

func (s *RedisStore) GetServiceDetails(ctx context.Context, date, serviceID string, st StoreType) (*model.Service, error) {
	fields, err := s.client.HGetAll(ctx, infoKey(st, date, serviceID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reading service payload")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeService(date, serviceID, st, recordFromHash(fields))
}

func (s *RedisStore) GetServiceMetadata(ctx context.Context, date, number string, st StoreType) (StoreType, []ServiceSummary, error) {
	tier, ids, err := s.getServiceIDs(ctx, date, number, st)
	if err != nil || len(ids) == 0 {
		return tier, nil, err
	}

	summaries := make([]ServiceSummary, 0, len(ids))
	for _, id := range ids {
		values, err := s.client.HMGet(ctx, infoKey(tier, date, id), summaryFields...).Result()
		if err != nil {
			return tier, nil, errors.Wrap(err, "reading service summary")
		}

		fields := map[string]string{}
		for i, v := range values {
			if str, ok := v.(string); ok {
				fields[summaryFields[i]] = str
			}
		}
		if fields["servicenumber"] == "" {
			s.log.WithField("service", id).Error("No metadata for service")
			continue
		}

		summary, err := recordFromHash(fields).summary()
		if err != nil {
			s.log.WithField("service", id).WithError(err).Error("Malformed service summary")
			continue
		}
		summaries = append(summaries, ServiceSummary{ServiceID: id, Summary: summary})
	}
	return tier, summaries, nil
}

func (s *RedisStore) GetServiceDates(ctx context.Context, st StoreType) ([]string, error) {
	if st == ActualOrScheduled {
		dates, err := s.client.SUnion(ctx, datesKey(Actual), datesKey(Scheduled)).Result()
		return dates, errors.Wrap(err, "listing service dates")
	}
	dates, err := s.client.SMembers(ctx, datesKey(st)).Result()
	return dates, errors.Wrap(err, "listing service dates")
}

func (s *RedisStore) GetServicesBetween(ctx context.Context, from, to time.Time) ([]*model.Service, error) {
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

func (s *RedisStore) DeleteService(ctx context.Context, date, number string, st StoreType) (bool, error) {
	known, err := s.client.SIsMember(ctx, numbersKey(st, date), number).Result()
	if err != nil {
		return false, errors.Wrap(err, "checking service number")
	}
	if !known {
		return false, nil
	}

	ids, err := s.client.SMembers(ctx, idsKey(st, date, number)).Result()
	if err != nil {
		return false, errors.Wrap(err, "listing service ids")
	}

	// One payload is inspected for per-stop secondary numbers, so
	// wing index entries do not outlive the service. A sibling
	// wing's payload stored under its own id keeps existing without
	// an index entry; readers never reach it and TrashStore reclaims
	// it with the rest of the date.
	numbers := []string{number}
	if len(ids) > 0 {
		service, err := s.GetServiceDetails(ctx, date, ids[0], st)
		if err != nil {
			return false, err
		}
		if service != nil {
			for _, n := range secondaryNumbers(service) {
				if n != number && n != "" {
					numbers = append(numbers, n)
				}
			}
		}
	}

	for _, id := range ids {
		if err := s.deleteServiceID(ctx, date, id, st); err != nil {
			return false, err
		}
	}

	for _, n := range numbers {
		if err := s.client.Del(ctx, idsKey(st, date, n)).Err(); err != nil {
			return false, errors.Wrap(err, "deleting id set")
		}
		if err := s.client.SRem(ctx, numbersKey(st, date), n).Err(); err != nil {
			return false, errors.Wrap(err, "removing service number")
		}
	}

	remaining, err := s.client.Exists(ctx, numbersKey(st, date)).Result()
	if err != nil {
		return false, errors.Wrap(err, "checking date usage")
	}
	if remaining == 0 {
		if err := s.client.SRem(ctx, datesKey(st), date).Err(); err != nil {
			return false, errors.Wrap(err, "removing service date")
		}
	}
	return true, nil
}

func (s *RedisStore) deleteServiceID(ctx context.Context, date, serviceID string, st StoreType) error {
	if err := s.client.Del(ctx, infoKey(st, date, serviceID)).Err(); err != nil {
		return errors.Wrap(err, "deleting service payload")
	}
	if err := s.client.SRem(ctx, scheduleKey(st, date), serviceID).Err(); err != nil {
		return errors.Wrap(err, "removing schedule id")
	}
	return nil
}

func (s *RedisStore) TrashStore(ctx context.Context, date string, st StoreType) error {
	prefix1 := fmt.Sprintf("schedule:%s:%s:", st, date)
	prefix2 := fmt.Sprintf("services:%s:%s:", st, date)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "", 100).Result()
		if err != nil {
			return errors.Wrap(err, "scanning keyspace")
		}
		for _, key := range keys {
			if strings.HasPrefix(key, prefix1) || strings.HasPrefix(key, prefix2) {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return errors.Wrap(err, "deleting key")
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := s.client.Del(ctx, numbersKey(st, date), scheduleKey(st, date)).Err(); err != nil {
		return errors.Wrap(err, "deleting date keys")
	}
	return errors.Wrap(
		s.client.SRem(ctx, datesKey(st), date).Err(),
		"removing service date")
}
