// Package iff reads the scheduled timetable from a relational IFF
// database converted to MySQL.
package iff

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/timeutil"
)

// DefaultTimezone is the canonical local timezone of the timetable.
// IFF stop times are day offsets in this zone.
const DefaultTimezone = "Europe/Amsterdam"

// DBConfig holds MySQL connection settings for the timetable and
// archive databases.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Timezone string `yaml:"timezone"`
}

// DSN renders the config as a go-sql-driver DSN.
func (c DBConfig) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = c.Database
	return cfg.FormatDSN()
}

// Source reads scheduled services and description lookups from the
// timetable database. Lookups are memoised for the lifetime of the
// Source; the timetable changes only between loads.
type Source struct {
	db  *sql.DB
	loc *time.Location
	log *logrus.Entry

	mu        sync.Mutex
	stations  map[string]string
	modes     map[string]string
	companies map[string]string
}

func NewSource(cfg DBConfig) (*Source, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "loading timezone %s", tz)
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "opening timetable database")
	}

	return &Source{
		db:        db,
		loc:       loc,
		log:       logrus.WithField("component", "iff"),
		stations:  map[string]string{},
		modes:     map[string]string{},
		companies: map[string]string{},
	}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

// Ping verifies the connection, re-establishing it when the server
// went away. Workers call this before retrying a failed lookup.
func (s *Source) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "pinging timetable database")
}

// ServicesForDate returns the source ids of every service valid on
// the given date.
func (s *Source) ServicesForDate(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ts.serviceid
		FROM timetable_service ts
		JOIN timetable_validity tv ON ts.serviceid = tv.serviceid
		JOIN footnote f ON tv.footnote = f.footnote
		WHERE f.servicedate = ?`, timeutil.Date(date))
	if err != nil {
		return nil, errors.Wrap(err, "querying services for date")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning service id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "reading services for date")
}

// ServiceIDsForNumber returns the source ids carrying the given
// public service number on a date. Used by the HTTP fallback path.
func (s *Source) ServiceIDsForNumber(ctx context.Context, number string, date time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ts.serviceid
		FROM timetable_service ts
		JOIN timetable_validity tv ON ts.serviceid = tv.serviceid
		JOIN footnote f ON tv.footnote = f.footnote
		WHERE ts.servicenumber = ? AND f.servicedate = ?`, number, timeutil.Date(date))
	if err != nil {
		return nil, errors.Wrap(err, "querying services for number")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning service id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "reading services for number")
}

type attributeRange struct {
	first, last int
	attribute   model.Attribute
}

// ServiceDetails hydrates one source id into Service objects. A run
// carrying multiple public numbers along its path emits one Service
// per distinct number, each with the full stop list. Unknown ids
// return nil without error.
func (s *Source) ServiceDetails(ctx context.Context, serviceID string, date time.Time) ([]*model.Service, error) {
	attrs, err := s.serviceAttributes(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.idx, t_sv.servicenumber, ts.station, st.name,
			ts.arrivaltime, ts.departuretime,
			p.arrival, p.departure,
			tt.transmode, tm.description
		FROM timetable_stop ts
		JOIN station st ON ts.station = st.shortname
		JOIN timetable_service t_sv
			ON ts.serviceid = t_sv.serviceid
			AND t_sv.firststop <= ts.idx AND t_sv.laststop >= ts.idx
		JOIN timetable_validity tv ON t_sv.serviceid = tv.serviceid
		JOIN footnote f_s ON tv.footnote = f_s.footnote
		LEFT JOIN timetable_platform p
			ON ts.serviceid = p.serviceid AND ts.idx = p.idx
		LEFT JOIN footnote f_p
			ON p.footnote = f_p.footnote AND f_p.servicedate = f_s.servicedate
		LEFT JOIN timetable_transport tt
			ON tt.serviceid = ts.serviceid
			AND tt.firststop <= ts.idx AND tt.laststop >= ts.idx
		LEFT JOIN trnsmode tm ON tt.transmode = tm.code
		WHERE ts.serviceid = ? AND f_s.servicedate = ?
		ORDER BY ts.idx`, serviceID, timeutil.Date(date))
	if err != nil {
		return nil, errors.Wrap(err, "querying service details")
	}
	defer rows.Close()

	var (
		numbers       []string
		numberSeen    = map[string]bool{}
		stops         []*model.ServiceStop
		transportMode sql.NullString
		modeText      sql.NullString
		metadataSet   bool
	)

	for rows.Next() {
		var (
			idx              int
			number           string
			station          string
			stationName      string
			arrival          sql.NullString
			departure        sql.NullString
			arrivalPlatform  sql.NullString
			departurePlatfrm sql.NullString
			mode             sql.NullString
			modeDescription  sql.NullString
		)
		if err := rows.Scan(&idx, &number, &station, &stationName,
			&arrival, &departure, &arrivalPlatform, &departurePlatfrm,
			&mode, &modeDescription); err != nil {
			return nil, errors.Wrap(err, "scanning service stop")
		}

		if !numberSeen[number] {
			numberSeen[number] = true
			numbers = append(numbers, number)
		}
		if !metadataSet {
			transportMode = mode
			modeText = modeDescription
			metadataSet = true
		}

		stop := model.NewServiceStop(strings.ToLower(station))
		stop.StopName = stationName
		if stop.ArrivalTime, err = s.stopTime(date, arrival); err != nil {
			return nil, errors.Wrapf(err, "stop %s arrival", station)
		}
		if stop.DepartureTime, err = s.stopTime(date, departure); err != nil {
			return nil, errors.Wrapf(err, "stop %s departure", station)
		}
		stop.ScheduledArrivalPlatform = arrivalPlatform.String
		stop.ScheduledDeparturePlatform = departurePlatfrm.String
		stop.ServiceNumber = number

		for _, ar := range attrs {
			if idx >= ar.first && idx <= ar.last {
				stop.Attributes = append(stop.Attributes, ar.attribute)
			}
		}

		// A repeated station replaces its predecessor: the later
		// row carries the servicenumber valid from this stop on.
		if len(stops) > 0 && stops[len(stops)-1].StopCode == stop.StopCode {
			stops = stops[:len(stops)-1]
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading service details")
	}
	if len(stops) == 0 {
		return nil, nil
	}

	services := make([]*model.Service, 0, len(numbers))
	for _, number := range numbers {
		service := model.NewService()
		service.ServiceID = serviceID
		y, m, d := date.Date()
		service.ServiceDate = time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		service.ServiceNumber = number
		service.TransportMode = transportMode.String
		service.TransportModeDescription = modeText.String
		service.Source = model.SourceIFF

		// The timetable stores a zero for services without a
		// public number; give those a synthetic stable number.
		if service.ServiceNumber == "" || service.ServiceNumber == "0" {
			service.ServiceNumber = "i" + serviceID
			s.log.WithFields(logrus.Fields{
				"service":       serviceID,
				"servicenumber": service.ServiceNumber,
			}).Debug("Invalid service number, using synthetic number")
		}

		service.Stops = append(service.Stops, stops...)
		services = append(services, service)
	}
	return services, nil
}

// ServicesDetails hydrates a batch of source ids. Unknown ids are
// skipped with a warning.
func (s *Source) ServicesDetails(ctx context.Context, serviceIDs []string, date time.Time) ([]*model.Service, error) {
	services := []*model.Service{}
	for _, id := range serviceIDs {
		details, err := s.ServiceDetails(ctx, id, date)
		if err != nil {
			return nil, err
		}
		if details == nil {
			s.log.WithField("service", id).Warn("Skipping unknown service")
			continue
		}
		services = append(services, details...)
	}
	return services, nil
}

func (s *Source) serviceAttributes(ctx context.Context, serviceID string) ([]attributeRange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ta.firststop, ta.laststop, a.code, a.description, a.processingcode
		FROM timetable_attribute ta
		JOIN trnsattr a ON ta.code = a.code
		WHERE ta.serviceid = ?`, serviceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying service attributes")
	}
	defer rows.Close()

	var attrs []attributeRange
	for rows.Next() {
		var (
			ar         attributeRange
			processing int
		)
		if err := rows.Scan(&ar.first, &ar.last, &ar.attribute.Code,
			&ar.attribute.Description, &processing); err != nil {
			return nil, errors.Wrap(err, "scanning service attribute")
		}
		ar.attribute.Processing = attributeProcessing(processing)
		attrs = append(attrs, ar)
	}
	return attrs, errors.Wrap(rows.Err(), "reading service attributes")
}

// attributeProcessing maps the numeric processing code of the
// trnsattr table onto the model enum.
func attributeProcessing(code int) model.AttributeProcessing {
	switch code {
	case 1:
		return model.AttrBoardingOnly
	case 2:
		return model.AttrUnboardingOnly
	default:
		return model.AttrOther
	}
}

// stopTime combines a timetable day offset ("HH:MM:SS", may exceed
// 24h for post-midnight stops) with the service date.
func (s *Source) stopTime(date time.Time, value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	offset, err := parseDayOffset(value.String)
	if err != nil {
		return nil, err
	}
	combined := timeutil.CombineLocal(date, offset, s.loc)
	return &combined, nil
}

func parseDayOffset(value string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed time of day %q", value)
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(value, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("malformed time of day %q: %w", value, err)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second, nil
}

// StationName looks up a station name by code. Unknown codes return
// an empty string without error.
func (s *Source) StationName(ctx context.Context, code string) (string, error) {
	return s.lookup(ctx, s.stations, code,
		`SELECT name FROM station WHERE shortname = ?`)
}

// TransportMode looks up a transport mode description by code.
func (s *Source) TransportMode(ctx context.Context, code string) (string, error) {
	return s.lookup(ctx, s.modes, code,
		`SELECT description FROM trnsmode WHERE code = ?`)
}

// CompanyName looks up a company name by code.
func (s *Source) CompanyName(ctx context.Context, code string) (string, error) {
	return s.lookup(ctx, s.companies, code,
		`SELECT name FROM company WHERE code = ?`)
}

func (s *Source) lookup(ctx context.Context, cache map[string]string, code, query string) (string, error) {
	s.mu.Lock()
	value, ok := cache[code]
	s.mu.Unlock()
	if ok {
		return value, nil
	}

	err := s.db.QueryRowContext(ctx, query, code).Scan(&value)
	if err == sql.ErrNoRows {
		value = ""
	} else if err != nil {
		return "", errors.Wrapf(err, "looking up %s", code)
	}

	s.mu.Lock()
	cache[code] = value
	s.mu.Unlock()
	return value, nil
}
