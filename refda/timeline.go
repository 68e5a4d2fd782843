package refda

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// timelineEvent is one scheduled callback: an EXEC resume, a TBR fire,
// or an SBR condition check (spec §3 "Timeline"). The three kinds are
// distinguished only by what Fire does; the timeline itself is
// kind-agnostic, matching spec §4.6's "min-heap ordered on event
// timestamp".
type timelineEvent struct {
	at        time.Time
	fire      func()
	withdrawn bool
	index     int
}

type timelineHeap []*timelineEvent

func (h timelineHeap) Len() int            { return len(h) }
func (h timelineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timelineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timelineHeap) Push(x interface{}) {
	ev := x.(*timelineEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}
func (h *timelineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Timeline is the ordered-by-time event queue of spec §3/§4.6: a
// min-heap the timeline worker sleeps against until the next event or
// a stop signal, then dispatches (spec §9 "Deferred execution without
// coroutines").
type Timeline struct {
	mu     sync.Mutex
	h      timelineHeap
	wake   chan struct{}
}

// NewTimeline builds an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{wake: make(chan struct{}, 1)}
}

// Schedule arranges fire to run at (or soon after) at, and returns a
// handle Withdraw can use to cancel it before it fires.
func (t *Timeline) Schedule(at time.Time, fire func()) *timelineEvent {
	t.mu.Lock()
	ev := &timelineEvent{at: at, fire: fire}
	heap.Push(&t.h, ev)
	t.mu.Unlock()
	t.nudge()
	return ev
}

// Withdraw cancels a pending event (spec §5 "execution drains its
// state list but skips WAITING items whose timeline event has been
// withdrawn").
func (t *Timeline) Withdraw(ev *timelineEvent) {
	t.mu.Lock()
	ev.withdrawn = true
	t.mu.Unlock()
}

func (t *Timeline) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run is the timeline worker's main loop: sleep until the next event's
// timestamp (or until nudged by a new, earlier Schedule), fire every
// due event in non-decreasing timestamp order (spec §8 "Timeline
// events fire in non-decreasing timestamp order"), then repeat until
// ctx is cancelled.
func (t *Timeline) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		d, ok := t.nextDelay()
		if ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			continue
		case <-timer.C:
			t.fireDue()
		}
	}
}

func (t *Timeline) nextDelay() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.h) == 0 {
		return 0, false
	}
	d := time.Until(t.h[0].at)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (t *Timeline) fireDue() {
	now := time.Now()
	for {
		t.mu.Lock()
		if len(t.h) == 0 || t.h[0].at.After(now) {
			t.mu.Unlock()
			return
		}
		ev := heap.Pop(&t.h).(*timelineEvent)
		t.mu.Unlock()
		if !ev.withdrawn {
			ev.fire()
		}
	}
}
