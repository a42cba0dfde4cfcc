// Package injector pushes upcoming departures to a downstream
// display system over a request/reply socket.
package injector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/filter"
	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

const (
	defaultMaxVia = 3
	replyTimeout  = 5 * time.Second
)

// Config holds the injector section of the configuration.
type Config struct {
	// Window is the lookahead in minutes.
	Window int `yaml:"window"`
	// Server is the REQ endpoint of the downstream receiver.
	Server string `yaml:"injector_server"`
	// Selection picks the services eligible for injection.
	Selection filter.Filter `yaml:"selection"`
	// Schedule is a cron expression for daemon mode.
	Schedule string `yaml:"schedule"`
	MaxVia   int    `yaml:"max_via"`
}

// Record is the JSON document sent per upcoming departure.
type Record struct {
	ServiceID         string      `json:"service_id"`
	ServiceNumber     string      `json:"service_number"`
	ServiceDate       string      `json:"service_date"`
	DestinationText   string      `json:"destination_text"`
	DestinationCode   string      `json:"destination_code"`
	DoNotBoard        bool        `json:"do_not_board"`
	TransportModeCode string      `json:"transmode_code"`
	TransportModeText string      `json:"transmode_text"`
	Company           string      `json:"company"`
	Departure         string      `json:"departure"`
	StopCode          string      `json:"stop_code"`
	Platform          string      `json:"platform"`
	ArrivalDelay      int         `json:"arrival_delay"`
	DepartureDelay    int         `json:"departure_delay"`
	Via               [][2]string `json:"via"`
	UpcomingStops     [][2]string `json:"upcoming_stops"`
}

// Departure pairs a service with one of its injectable stops.
type Departure struct {
	Service *model.Service
	Stop    *model.ServiceStop
}

type Injector struct {
	cfg   Config
	store storage.Store
	log   *logrus.Entry
}

func New(cfg Config, store storage.Store) *Injector {
	if cfg.MaxVia <= 0 {
		cfg.MaxVia = defaultMaxVia
	}
	return &Injector{
		cfg:   cfg,
		store: store,
		log:   logrus.WithField("component", "injector"),
	}
}

// Departures selects the (service, stop) pairs departing inside the
// lookahead window that match the selection filter.
func (inj *Injector) Departures(ctx context.Context, now time.Time) ([]Departure, error) {
	to := now.Add(time.Duration(inj.cfg.Window) * time.Minute)
	services, err := inj.store.GetServicesBetween(ctx, now, to)
	if err != nil {
		return nil, err
	}
	inj.log.WithField("services", len(services)).Debug("Found services in time window")

	departures := []Departure{}
	for _, service := range services {
		if !filter.Match(service, inj.cfg.Selection) {
			continue
		}
		for _, stop := range service.Stops {
			if filter.DepartureTimeWindow(stop, inj.cfg.Window, now) {
				departures = append(departures, Departure{Service: service, Stop: stop})
			}
		}
	}
	inj.log.WithField("departures", len(departures)).Debug("Found departures eligible for injecting")
	return departures, nil
}

// BuildRecord renders one departure as its injection document.
func BuildRecord(service *model.Service, stop *model.ServiceStop, maxVia int) Record {
	record := Record{
		ServiceID:         service.ServiceID,
		ServiceNumber:     stop.ServiceNumber,
		ServiceDate:       service.ServiceDateString(),
		TransportModeCode: service.TransportMode,
		TransportModeText: service.TransportModeDescription,
		Company:           service.CompanyName,
		Departure:         timeutil.ISO8601(stop.DepartureTime),
		StopCode:          stop.StopCode,
		Platform:          stop.DeparturePlatform(),
		ArrivalDelay:      stop.ArrivalDelay,
		DepartureDelay:    stop.DepartureDelay,
		DoNotBoard:        stop.DoNotBoard(),
		Via:               [][2]string{},
		UpcomingStops:     [][2]string{},
	}
	if record.ServiceNumber == "" {
		record.ServiceNumber = service.ServiceNumber
	}
	if destination := service.Destination(); destination != nil {
		record.DestinationText = destination.StopName
		record.DestinationCode = destination.StopCode
	}

	position := -1
	for i, s := range service.Stops {
		if s == stop {
			position = i
			break
		}
	}
	if position < 0 {
		return record
	}

	last := len(service.Stops) - 1
	for i := position + 1; i <= last; i++ {
		s := service.Stops[i]
		record.UpcomingStops = append(record.UpcomingStops, [2]string{s.StopCode, s.StopName})
		if i < last && len(record.Via) < maxVia {
			record.Via = append(record.Via, [2]string{s.StopCode, s.StopName})
		}
	}
	return record
}

// Inject sends the departures one by one over a fresh REQ socket. A
// reply timeout aborts the batch; partial injections stand.
func (inj *Injector) Inject(ctx context.Context, departures []Departure) error {
	socket := zmq4.NewReq(ctx)
	if err := socket.Dial(inj.cfg.Server); err != nil {
		return errors.Wrapf(err, "connecting to %s", inj.cfg.Server)
	}
	defer socket.Close()

	injected := 0
	for _, departure := range departures {
		record := BuildRecord(departure.Service, departure.Stop, inj.cfg.MaxVia)
		payload, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "encoding injection record")
		}

		log := inj.log.WithFields(logrus.Fields{
			"service": departure.Service.ServiceID,
			"stop":    departure.Stop.StopCode,
		})
		log.Debug("Injecting departure")

		if err := socket.Send(zmq4.NewMsg(payload)); err != nil {
			return errors.Wrap(err, "sending injection record")
		}

		reply, err := inj.receiveReply(socket)
		if err != nil {
			inj.log.WithError(err).Error("Receiver timeout, injections aborted")
			break
		}
		if !reply {
			log.Error("Receiver did not accept injection")
			continue
		}
		injected++
	}

	inj.log.WithField("count", injected).Info("Processed injections")
	return nil
}

// receiveReply waits for one reply, bounded by the reply timeout.
func (inj *Injector) receiveReply(socket zmq4.Socket) (bool, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := socket.Recv()
		done <- result{msg: msg, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return false, r.err
		}
		var reply struct {
			Result bool `json:"result"`
		}
		if err := json.Unmarshal(r.msg.Bytes(), &reply); err != nil {
			return false, nil
		}
		return reply.Result, nil
	case <-time.After(replyTimeout):
		return false, errors.New("no reply within timeout")
	}
}

// RunOnce performs one injection pass.
func (inj *Injector) RunOnce(ctx context.Context) error {
	departures, err := inj.Departures(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(departures) == 0 {
		inj.log.Debug("No departures to inject")
		return nil
	}
	return inj.Inject(ctx, departures)
}

// RunDaemon runs injection passes on the configured cron schedule
// until the context is canceled.
func (inj *Injector) RunDaemon(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(inj.cfg.Schedule, func() {
		if err := inj.RunOnce(ctx); err != nil {
			inj.log.WithError(err).Error("Injection pass failed")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "parsing schedule %q", inj.cfg.Schedule)
	}

	c.Start()
	inj.log.WithField("schedule", inj.cfg.Schedule).Info("Injector daemon started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
