// Package archive copies a service date from the store into the
// relational archive database.
package archive

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/iff"
	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

type Archiver struct {
	db    *sql.DB
	store storage.Store
	log   *logrus.Entry
}

func NewArchiver(cfg iff.DBConfig, store storage.Store) (*Archiver, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "opening archive database")
	}
	return &Archiver{
		db:    db,
		store: store,
		log:   logrus.WithField("component", "archive"),
	}, nil
}

func (a *Archiver) Close() error {
	return a.db.Close()
}

// servicePayload is the services row derived from one service.
type servicePayload struct {
	ServiceDate     string
	ServiceNumber   string
	Company         string
	TransportMode   string
	Cancelled       bool
	PartlyCancelled bool
	MaxDelay        int
	From            string
	To              string
	Source          string
}

func buildPayload(service *model.Service) servicePayload {
	payload := servicePayload{
		ServiceDate:   service.ServiceDateString(),
		ServiceNumber: service.ServiceNumber,
		Company:       service.CompanyCode,
		TransportMode: service.TransportMode,
		Cancelled:     service.Cancelled,
		From:          service.DepartureCode(),
		To:            service.DestinationCode(),
		Source:        service.Source,
	}
	for _, stop := range service.Stops {
		if stop.CancelledArrival || stop.CancelledDeparture {
			payload.PartlyCancelled = true
		}
		if stop.ArrivalDelay > payload.MaxDelay {
			payload.MaxDelay = stop.ArrivalDelay
		}
		if stop.DepartureDelay > payload.MaxDelay {
			payload.MaxDelay = stop.DepartureDelay
		}
	}
	return payload
}

// Run archives every service stored under the given date in the
// combined view. All rows go into one transaction, committed at the
// end; a failure leaves the archive untouched.
func (a *Archiver) Run(ctx context.Context, date time.Time) (int, error) {
	dateStr := timeutil.Date(date)

	a.log.WithField("date", dateStr).Info("Retrieving service numbers")
	numbers, err := a.store.GetServiceNumbers(ctx, dateStr, storage.ActualOrScheduled)
	if err != nil {
		return 0, err
	}
	a.log.WithField("count", len(numbers)).Info("Storing services to archive")

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "starting archive transaction")
	}
	defer tx.Rollback()

	// Stations and transport modes repeat across services; each is
	// written once per run.
	seenStations := map[string]bool{}
	seenModes := map[string]bool{}
	archived := 0

	for _, number := range numbers {
		services, err := a.store.GetService(ctx, dateStr, number, storage.ActualOrScheduled)
		if err != nil {
			return 0, err
		}
		for _, service := range services {
			if err := a.archiveService(ctx, tx, service, seenStations, seenModes); err != nil {
				return 0, err
			}
			archived++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing archive transaction")
	}
	a.log.WithField("count", archived).Info("Services stored to archive")
	return archived, nil
}

func (a *Archiver) archiveService(ctx context.Context, tx *sql.Tx, service *model.Service,
	seenStations, seenModes map[string]bool) error {

	payload := buildPayload(service)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO services
			(service_date, service_number, company, transport_mode, cancelled,
			partly_cancelled, max_delay, `+"`from`, `to`, `source`"+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payload.ServiceDate, payload.ServiceNumber, payload.Company,
		payload.TransportMode, payload.Cancelled, payload.PartlyCancelled,
		payload.MaxDelay, payload.From, payload.To, payload.Source)
	if err != nil {
		return errors.Wrapf(err, "archiving service %s", service.ServiceID)
	}

	if service.TransportMode != "" && !seenModes[service.TransportMode] {
		seenModes[service.TransportMode] = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transport_modes (code, description)
			VALUES (?, ?)
			ON DUPLICATE KEY UPDATE description = VALUES(description)`,
			service.TransportMode, service.TransportModeDescription)
		if err != nil {
			return errors.Wrapf(err, "archiving transport mode %s", service.TransportMode)
		}
	}

	for _, stop := range service.Stops {
		if !seenStations[stop.StopCode] {
			seenStations[stop.StopCode] = true
			_, err = tx.ExecContext(ctx, `
				INSERT INTO stations (stop_code, stop_name)
				VALUES (?, ?)
				ON DUPLICATE KEY UPDATE stop_name = VALUES(stop_name)`,
				stop.StopCode, stop.StopName)
			if err != nil {
				return errors.Wrapf(err, "archiving station %s", stop.StopCode)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stops
				(service_date, service_number, stop_code,
				arrival_time, departure_time,
				scheduled_arrival_platform, actual_arrival_platform,
				scheduled_departure_platform, actual_departure_platform,
				arrival_delay, departure_delay,
				cancelled_arrival, cancelled_departure)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			payload.ServiceDate, stop.ServiceNumber, stop.StopCode,
			isoTime(stop.ArrivalTime), isoTime(stop.DepartureTime),
			stop.ScheduledArrivalPlatform, stop.ActualArrivalPlatform,
			stop.ScheduledDeparturePlatform, stop.ActualDeparturePlatform,
			stop.ArrivalDelay, stop.DepartureDelay,
			stop.CancelledArrival, stop.CancelledDeparture)
		if err != nil {
			return errors.Wrapf(err, "archiving stop %s of %s", stop.StopCode, service.ServiceID)
		}
	}
	return nil
}

func isoTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeutil.ISO8601(t)
}
