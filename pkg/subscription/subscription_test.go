package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paul/glienicke/pkg/event"
)

func newTestEvent(id string, kind int) *event.Event {
	return &event.Event{ID: id, Kind: kind, PubKey: "deadbeef", CreatedAt: 1}
}

func TestNew_DefaultCapacity(t *testing.T) {
	sub := New("sub1", nil, 0)
	assert.Equal(t, DefaultQueueCapacity, cap(sub.queue))
}

func TestMatches(t *testing.T) {
	filters := []*event.Filter{{Kinds: []int{1}}}
	sub := New("sub1", filters, 10)

	assert.True(t, sub.Matches(newTestEvent("a", 1)))
	assert.False(t, sub.Matches(newTestEvent("b", 2)))
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	sub := New("sub1", nil, 2)

	sub.Enqueue(newTestEvent("a", 1))
	sub.Enqueue(newTestEvent("b", 1))
	sub.Enqueue(newTestEvent("c", 1)) // dropped, queue full

	assert.Len(t, sub.queue, 2)
}

func TestEnqueue_NoopAfterCancel(t *testing.T) {
	sub := New("sub1", nil, 2)
	sub.Cancel()
	sub.Enqueue(newTestEvent("a", 1))

	assert.Len(t, sub.queue, 0)
}

func TestCancel_Idempotent(t *testing.T) {
	sub := New("sub1", nil, 2)
	assert.NotPanics(t, func() {
		sub.Cancel()
		sub.Cancel()
	})
}

func TestSignalEOSE_Idempotent(t *testing.T) {
	sub := New("sub1", nil, 2)
	assert.NotPanics(t, func() {
		sub.SignalEOSE()
		sub.SignalEOSE()
	})
}

func TestRun_DeliversThenEOSEThenLive(t *testing.T) {
	sub := New("sub1", nil, 10)

	var frames []Frame
	gotTwo := make(chan struct{})
	gotThree := make(chan struct{})
	go func() {
		sub.Run(func(f Frame) error {
			frames = append(frames, f)
			switch len(frames) {
			case 2:
				close(gotTwo)
			case 3:
				close(gotThree)
			}
			return nil
		})
	}()

	sub.Enqueue(newTestEvent("a", 1))
	sub.SignalEOSE()

	select {
	case <-gotTwo:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for backfill + eose frames")
	}

	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Event.ID)
	assert.True(t, frames[1].EOSE)

	sub.Enqueue(newTestEvent("live", 1))

	select {
	case <-gotThree:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live frame")
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "live", frames[2].Event.ID)

	sub.Cancel()
}

func TestRun_ExitsOnCancel(t *testing.T) {
	sub := New("sub1", nil, 10)

	done := make(chan struct{})
	go func() {
		sub.Run(func(f Frame) error { return nil })
		close(done)
	}()

	sub.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Cancel")
	}
}

type fakeStore struct {
	events []*event.Event
}

func (f *fakeStore) Persist(ctx context.Context, evt *event.Event) error { return nil }

func (f *fakeStore) Query(ctx context.Context, filters []*event.Filter, emit func(*event.Event) error) error {
	for _, e := range f.events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) Count(ctx context.Context, filters []*event.Filter) (int, error) {
	return len(f.events), nil
}

func (f *fakeStore) DeleteByID(ctx context.Context, id string) error { return nil }

func (f *fakeStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func TestBackfill_SignalsEOSEAfterQuery(t *testing.T) {
	store := &fakeStore{events: []*event.Event{newTestEvent("a", 1), newTestEvent("b", 1)}}
	sub := New("sub1", nil, 10)

	sub.Backfill(context.Background(), store)

	select {
	case <-sub.eose:
	default:
		t.Fatal("expected EOSE to be signaled after backfill completes")
	}
	assert.Len(t, sub.queue, 2)
}
