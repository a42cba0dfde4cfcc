// Package listener runs the realtime ingest pipeline: a SUB socket
// feeding a bounded work queue drained by parser workers.
package listener

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitdata/serviceinfo/arnu"
	"github.com/transitdata/serviceinfo/storage"
)

const (
	defaultWorkers   = 1
	defaultQueueSize = 512
)

// Config holds the ingest settings from the arnu_source section.
type Config struct {
	Socket    string `yaml:"socket"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// Timetable is the per-worker description source. Each worker owns
// its own connection; Ping recovers idle drops after a failure.
type Timetable interface {
	arnu.Resolver
	Ping(ctx context.Context) error
}

// Listener subscribes to the realtime feed and applies every parsed
// update to the actual tier of the store.
type Listener struct {
	cfg   Config
	store storage.Store
	stats storage.Stats

	// newTimetable opens a fresh timetable connection for one worker.
	newTimetable func() (Timetable, error)

	queue chan []byte
	log   *logrus.Entry
}

func New(cfg Config, store storage.Store, stats storage.Stats, newTimetable func() (Timetable, error)) *Listener {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Listener{
		cfg:          cfg,
		store:        store,
		stats:        stats,
		newTimetable: newTimetable,
		queue:        make(chan []byte, cfg.QueueSize),
		log:          logrus.WithField("component", "listener"),
	}
}

// Run receives messages until the context is canceled, then closes
// the socket and lets in-flight worker messages drain.
func (l *Listener) Run(ctx context.Context) error {
	socket := zmq4.NewSub(ctx)
	if err := socket.Dial(l.cfg.Socket); err != nil {
		return errors.Wrapf(err, "connecting to %s", l.cfg.Socket)
	}
	defer socket.Close()

	if err := socket.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return errors.Wrap(err, "subscribing")
	}
	l.log.WithField("socket", l.cfg.Socket).Info("Listening for realtime messages")

	var wg sync.WaitGroup
	for i := 0; i < l.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.worker(id)
		}(i)
	}

	for {
		msg, err := socket.Recv()
		if err != nil {
			// Recv fails when the context is canceled or the
			// socket is closed; anything else is fatal too.
			close(l.queue)
			wg.Wait()
			if ctx.Err() != nil {
				l.log.Info("Shutting down")
				return nil
			}
			return errors.Wrap(err, "receiving message")
		}
		if len(msg.Frames) < 2 {
			l.log.Warn("Dropping message without payload frame")
			continue
		}
		l.enqueue(bytes.Join(msg.Frames[1:], nil))
	}
}

// enqueue adds a payload to the work queue; when the queue is full
// the oldest queued message makes room.
func (l *Listener) enqueue(payload []byte) {
	for {
		select {
		case l.queue <- payload:
			return
		default:
		}
		select {
		case <-l.queue:
			l.log.Warn("Work queue full, dropping oldest message")
		default:
		}
	}
}

func (l *Listener) worker(id int) {
	log := l.log.WithField("worker", id)

	timetable, err := l.newTimetable()
	if err != nil {
		log.WithError(err).Error("Cannot open timetable connection, worker not started")
		return
	}

	log.Info("Worker started")
	for payload := range l.queue {
		l.process(context.Background(), log, timetable, payload)
	}
}

// process handles one message. Failures never take the worker down:
// the message is logged and dropped.
func (l *Listener) process(ctx context.Context, log *logrus.Entry, timetable Timetable, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered while processing message")
		}
	}()

	doc, err := decompress(payload)
	if err != nil {
		log.WithError(err).WithField("length", len(payload)).
			Warn("Cannot decompress message")
		return
	}

	if err := l.stats.IncrementMessages(ctx); err != nil {
		log.WithError(err).Warn("Cannot update message counter")
	}

	updates, err := arnu.ParseMessage(ctx, doc, timetable)
	if err != nil {
		log.WithError(err).Error("Message not processed")
		if pingErr := timetable.Ping(ctx); pingErr != nil {
			log.WithError(pingErr).Error("Timetable connection is down")
		}
		return
	}

	for _, update := range updates {
		service := update.Service
		if update.Remove {
			removed, err := l.store.DeleteService(ctx,
				service.ServiceDateString(), service.ServiceNumber, storage.Actual)
			if err != nil {
				log.WithError(err).WithField("service", service.ServiceID).
					Error("Cannot remove service")
			} else if removed {
				log.WithField("service", service.ServiceID).Debug("Removed service")
			}
			continue
		}

		if err := l.store.StoreService(ctx, service, storage.Actual); err != nil {
			log.WithError(err).WithField("service", service.ServiceID).
				Error("Cannot store service")
			continue
		}
		log.WithField("service", service.ServiceID).Debug("New information for service")
		if err := l.stats.IncrementServices(ctx); err != nil {
			log.WithError(err).Warn("Cannot update service counter")
		}
	}
}

func decompress(payload []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
