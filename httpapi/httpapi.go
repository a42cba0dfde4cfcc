// Package httpapi exposes the read-only HTTP surface over the
// service store, with a timetable fallback for unknown services.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/filter"
	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

// Timetable is the fallback source for services absent from the
// store. Implemented by iff.Source; nil disables the fallback.
type Timetable interface {
	ServiceIDsForNumber(ctx context.Context, number string, date time.Time) ([]string, error)
	ServicesDetails(ctx context.Context, serviceIDs []string, date time.Time) ([]*model.Service, error)
}

type Server struct {
	store     storage.Store
	timetable Timetable
	filter    filter.Config
	log       *logrus.Entry
}

// New builds a Server. The filter config is the scheduler filter: a
// timetable fallback hit is only served when the scheduler would have
// loaded the service too.
func New(store storage.Store, timetable Timetable, filterCfg filter.Config) *Server {
	return &Server{
		store:     store,
		timetable: timetable,
		filter:    filterCfg,
		log:       logrus.WithField("component", "httpapi"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/service/{date}", s.handleServiceNumbers)
	r.Get("/service/{date}/{number}", s.handleServiceDetails)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}

// storeType maps the type query parameter onto a tier; anything but
// actual or scheduled selects the combined view.
func storeType(r *http.Request) storage.StoreType {
	switch r.URL.Query().Get("type") {
	case "actual":
		return storage.Actual
	case "scheduled":
		return storage.Scheduled
	default:
		return storage.ActualOrScheduled
	}
}

type numbersResponse struct {
	Services []string `json:"services"`
}

func (s *Server) handleServiceNumbers(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	numbers, err := s.store.GetServiceNumbers(r.Context(), date, storeType(r))
	if err != nil {
		s.log.WithError(err).Error("Cannot list service numbers")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if numbers == nil {
		numbers = []string{}
	}
	if r.URL.Query().Get("sort") == "true" {
		sort.Strings(numbers)
	}
	writeJSON(w, http.StatusOK, numbersResponse{Services: numbers})
}

func (s *Server) handleServiceDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	date := chi.URLParam(r, "date")
	number := chi.URLParam(r, "number")

	services, err := s.store.GetService(ctx, date, number, storeType(r))
	if err != nil {
		s.log.WithError(err).Error("Cannot read service")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if len(services) == 0 && s.timetable != nil {
		if services, err = s.timetableFallback(ctx, date, number); err != nil {
			s.log.WithError(err).Error("Timetable fallback failed")
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	if len(services) == 0 {
		writeError(w, http.StatusNotFound, "Service not found")
		return
	}
	writeJSON(w, http.StatusOK, servicesResponse(services))
}

// timetableFallback serves services the scheduler has not loaded,
// subject to the scheduler filter.
func (s *Server) timetableFallback(ctx context.Context, date, number string) ([]*model.Service, error) {
	day, err := timeutil.ParseDate(date)
	if err != nil {
		return nil, nil
	}

	ids, err := s.timetable.ServiceIDsForNumber(ctx, number, day)
	if err != nil {
		return nil, err
	}
	details, err := s.timetable.ServicesDetails(ctx, ids, day)
	if err != nil {
		return nil, err
	}

	services := []*model.Service{}
	for _, service := range details {
		service.Source = model.SourceIFF
		if filter.IsIncluded(service, s.filter) {
			services = append(services, service)
		}
	}
	return services, nil
}

// Wire format of the details endpoint. Field names are stable; other
// consumers depend on them.

type serviceDocument struct {
	ServiceNumber            string         `json:"service_number"`
	ServiceID                string         `json:"service_id"`
	Cancelled                bool           `json:"cancelled"`
	TransportMode            string         `json:"transport_mode"`
	TransportModeDescription string         `json:"transport_mode_description"`
	Company                  string         `json:"company"`
	CompanyName              string         `json:"company_name"`
	ServiceDate              string         `json:"servicedate"`
	Stops                    []stopDocument `json:"stops"`
	Destination              string         `json:"destination"`
	Source                   string         `json:"source"`
}

type stopDocument struct {
	Station                    string  `json:"station"`
	StationName                string  `json:"station_name"`
	ArrivalTime                *string `json:"arrival_time"`
	DepartureTime              *string `json:"departure_time"`
	ScheduledArrivalPlatform   string  `json:"scheduled_arrival_platform"`
	ActualArrivalPlatform      string  `json:"actual_arrival_platform"`
	ScheduledDeparturePlatform string  `json:"scheduled_departure_platform"`
	ActualDeparturePlatform    string  `json:"actual_departure_platform"`
	ArrivalDelay               int     `json:"arrival_delay"`
	DepartureDelay             int     `json:"departure_delay"`
	CancelledArrival           bool    `json:"cancelled_arrival"`
	CancelledDeparture         bool    `json:"cancelled_departure"`
	ServiceNumber              string  `json:"servicenumber"`
}

type detailsResponse struct {
	Services []serviceDocument `json:"services"`
}

func servicesResponse(services []*model.Service) detailsResponse {
	response := detailsResponse{Services: []serviceDocument{}}
	for _, service := range services {
		doc := serviceDocument{
			ServiceNumber:            service.ServiceNumber,
			ServiceID:                service.ServiceID,
			Cancelled:                service.Cancelled,
			TransportMode:            service.TransportMode,
			TransportModeDescription: service.TransportModeDescription,
			Company:                  service.CompanyCode,
			CompanyName:              service.CompanyName,
			ServiceDate:              service.ServiceDateString(),
			Stops:                    []stopDocument{},
			Destination:              service.DestinationCode(),
			Source:                   service.Source,
		}
		for _, stop := range service.Stops {
			doc.Stops = append(doc.Stops, stopDocument{
				Station:                    stop.StopCode,
				StationName:                stop.StopName,
				ArrivalTime:                isoTime(stop.ArrivalTime),
				DepartureTime:              isoTime(stop.DepartureTime),
				ScheduledArrivalPlatform:   stop.ScheduledArrivalPlatform,
				ActualArrivalPlatform:      stop.ActualArrivalPlatform,
				ScheduledDeparturePlatform: stop.ScheduledDeparturePlatform,
				ActualDeparturePlatform:    stop.ActualDeparturePlatform,
				ArrivalDelay:               stop.ArrivalDelay,
				DepartureDelay:             stop.DepartureDelay,
				CancelledArrival:           stop.CancelledArrival,
				CancelledDeparture:         stop.CancelledDeparture,
				ServiceNumber:              stop.ServiceNumber,
			})
		}
		response.Services = append(response.Services, doc)
	}
	return response
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	iso := timeutil.ISO8601(t)
	return &iso
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("Cannot encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   strconv.Itoa(status),
		"message": message,
	})
}
