// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workflow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/opendub/internal/jobs"
	"github.com/ManuGH/opendub/internal/log"
	"github.com/ManuGH/opendub/internal/metrics"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventTransition reports a state change.
	EventTransition EventKind = iota + 1
	// EventJobUpdate reports a polled job status, including progress steps.
	EventJobUpdate
	// EventPollError reports a transient poll failure. The state is unchanged.
	EventPollError
)

func (k EventKind) String() string {
	switch k {
	case EventTransition:
		return "transition"
	case EventJobUpdate:
		return "job_update"
	case EventPollError:
		return "poll_error"
	default:
		return "unknown"
	}
}

// Event is published to subscribers in the order the machine observed it.
type Event struct {
	Kind       EventKind
	From, To   State
	Job        jobs.Job
	Err        error
	Message    string
	Generation uint64
	At         time.Time
}

const (
	defaultSubscriberBuffer = 64
	dropLogEvery            = 100
)

// broadcaster fans events out to subscribers without blocking the machine.
// A full subscriber buffer drops the event.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.DroppedEvents.Inc()
			if n := b.dropped.Add(1); n%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldEvent, ev.Kind.String()).
					Uint64("dropped", n).
					Msg("workflow subscriber too slow, dropping events")
			}
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
