package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcbridge/internal/game"
)

const (
	sinkTimeout = 3 * time.Second
	// sinkQueueSize is the number of events a stalled sink may fall behind by.
	sinkQueueSize = 256
)

// Observer is notified of dispatch outcomes, e.g. to update metrics. Sink
// methods are called from the sink's own goroutine.
type Observer interface {
	EventPublished(kind game.EventKind)
	SubscriberDropped(n int)
	SinkFailed(sink string)
	SinkDropped(sink string)
}

type nopObserver struct{}

func (nopObserver) EventPublished(game.EventKind) {}
func (nopObserver) SubscriberDropped(int)         {}
func (nopObserver) SinkFailed(string)             {}
func (nopObserver) SinkDropped(string)            {}

// Dispatcher publishes non-null lines to the hub and every sink. Dispatch
// never waits on a sink: each sink drains its own bounded queue, in order,
// and events that do not fit are dropped.
type Dispatcher struct {
	hub     *Hub
	workers []*sinkWorker
	obs     Observer
	log     *zap.Logger

	// closeGrace bounds how long Close lets queued events drain.
	closeGrace time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type sinkWorker struct {
	sink  Sink
	queue chan Event
}

func NewDispatcher(hub *Hub, log *zap.Logger, obs Observer, sinks ...Sink) *Dispatcher {
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		hub:        hub,
		obs:        obs,
		log:        log,
		closeGrace: sinkTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, s := range sinks {
		w := &sinkWorker{sink: s, queue: make(chan Event, sinkQueueSize)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.drain(w)
	}
	return d
}

// Dispatch reports whether line was published; null lines never are.
func (d *Dispatcher) Dispatch(line game.LogLine) bool {
	if line.IsNull() {
		return false
	}
	ev := NewEvent(line)
	if n := d.hub.Publish(ev); n > 0 {
		d.obs.SubscriberDropped(n)
	}

	d.mu.RLock()
	if !d.closed {
		for _, w := range d.workers {
			select {
			case w.queue <- ev:
			default:
				d.obs.SinkDropped(w.sink.Name())
				d.log.Warn("sink queue full, event dropped", zap.String("sink", w.sink.Name()), zap.String("event", ev.ID))
			}
		}
	}
	d.mu.RUnlock()

	d.obs.EventPublished(line.Type)
	return true
}

func (d *Dispatcher) drain(w *sinkWorker) {
	defer d.wg.Done()
	for ev := range w.queue {
		if d.ctx.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(d.ctx, sinkTimeout)
		err := w.sink.Send(ctx, ev)
		cancel()
		if err != nil {
			d.obs.SinkFailed(w.sink.Name())
			d.log.Warn("sink publish failed", zap.String("sink", w.sink.Name()), zap.String("event", ev.ID), zap.Error(err))
		}
	}
}

// Close stops accepting events, gives queued ones closeGrace to reach their
// sinks, abandons the rest and closes every sink.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(d.closeGrace):
		d.log.Warn("sinks did not drain in time, abandoning queued events")
		d.cancel()
		<-drained
	}
	d.cancel()

	for _, w := range d.workers {
		if err := w.sink.Close(); err != nil {
			d.log.Warn("close sink", zap.String("sink", w.sink.Name()), zap.Error(err))
		}
	}
}
