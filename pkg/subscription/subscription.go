// Package subscription implements the subscription engine (spec
// §4.6): a bounded per-subscription delivery queue, a one-shot EOSE
// signal, and the sender/backfill tasks that drain them. It replaces
// the teacher's flat map[string][]*Filter on protocol.Client, which
// had no queue, no backpressure policy, and no EOSE ordering
// guarantee.
package subscription

import (
	"context"
	"sync"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/storage"
)

// DefaultQueueCapacity is used when no operator override is
// configured.
const DefaultQueueCapacity = 100

// Frame is one transport-agnostic delivery for a subscription: either
// a matched event, or (EOSE true) the end-of-stored-events marker.
type Frame struct {
	SubID string
	Event *event.Event
	EOSE  bool
}

// Subscription is one client's live REQ: its filter set, a bounded
// delivery queue, and a one-shot EOSE signal.
type Subscription struct {
	ID      string
	Filters []*event.Filter

	queue    chan *event.Event
	eose     chan struct{}
	eoseOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a subscription with the given bounded queue capacity.
// A non-positive capacity falls back to DefaultQueueCapacity.
func New(id string, filters []*event.Filter, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Subscription{
		ID:      id,
		Filters: filters,
		queue:   make(chan *event.Event, capacity),
		eose:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Matches reports whether evt should be enqueued for this
// subscription's live dispatch (spec §4.4/§4.6).
func (s *Subscription) Matches(evt *event.Event) bool {
	return event.MatchesAny(s.Filters, evt)
}

// Enqueue offers evt to the bounded queue. If the queue is full or the
// subscription is cancelled, evt is dropped for this subscription only
// (lossy backpressure, spec §4.6 — liveness for fast consumers over
// guaranteed delivery to slow ones).
func (s *Subscription) Enqueue(evt *event.Event) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.queue <- evt:
	default:
	}
}

// SignalEOSE fires the one-shot end-of-stored-events signal. Safe to
// call more than once; only the first call has effect.
func (s *Subscription) SignalEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

// Cancel closes the subscription's cancellation signal; the sender and
// backfill tasks observe it on their next loop iteration and exit, and
// Enqueue drops events from then on. The queue and EOSE channel
// themselves stay open. Idempotent.
func (s *Subscription) Cancel() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Backfill is the backfill task: it queries store for the
// subscription's filters (OR'd across filters per the storage
// contract, spec §6), streaming results into the bounded queue, then
// signals EOSE once the query completes. Per spec §9 design note 4,
// cancellation of an in-progress backfill is best-effort: a query
// already past its emit loop will still signal EOSE after Cancel.
func (s *Subscription) Backfill(ctx context.Context, store storage.Store) {
	defer s.SignalEOSE()

	store.Query(ctx, s.Filters, func(evt *event.Event) error {
		select {
		case <-s.closed:
			return context.Canceled
		default:
		}
		s.Enqueue(evt)
		return nil
	})
}

// Run is the sender task. It delivers events in receive order. Once
// the EOSE signal fires, it drains whatever is already queued and
// emits a single EOSE frame, then continues delivering subsequently
// enqueued (live) events until the subscription is cancelled. See
// DESIGN.md for why this runs past EOSE rather than exiting at it.
func (s *Subscription) Run(send func(Frame) error) {
	eoseSent := false

	for {
		if !eoseSent {
			select {
			case <-s.closed:
				return
			case evt := <-s.queue:
				if send(Frame{SubID: s.ID, Event: evt}) != nil {
					return
				}
			case <-s.eose:
				for drained := false; !drained; {
					select {
					case evt := <-s.queue:
						if send(Frame{SubID: s.ID, Event: evt}) != nil {
							return
						}
					default:
						drained = true
					}
				}
				if send(Frame{SubID: s.ID, EOSE: true}) != nil {
					return
				}
				eoseSent = true
			}
			continue
		}

		select {
		case <-s.closed:
			return
		case evt := <-s.queue:
			if send(Frame{SubID: s.ID, Event: evt}) != nil {
				return
			}
		}
	}
}
