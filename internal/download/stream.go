package download

import (
	"sync"

	"github.com/handiism/offline-regions/internal/model"
)

// Stream is a replay-last-value event stream. It always holds a current
// value; new subscribers receive it first, followed by every later event
// in publication order.
//
// Publish never blocks: each subscription buffers undelivered events in
// its own queue.
type Stream struct {
	mu   sync.Mutex
	last model.DownloadEvent
	subs map[*Subscription]struct{}
}

// NewStream creates a Stream holding initial.
func NewStream(initial model.DownloadEvent) *Stream {
	return &Stream{
		last: initial,
		subs: make(map[*Subscription]struct{}),
	}
}

// Last returns the current value.
func (s *Stream) Last() model.DownloadEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Publish replaces the current value and delivers ev to every subscriber.
func (s *Stream) Publish(ev model.DownloadEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = ev
	for sub := range s.subs {
		sub.enqueue(ev)
	}
}

// Subscribe registers a new subscriber. The caller must Close it.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		out:    make(chan model.DownloadEvent),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	sub.enqueue(s.last)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()
	return sub
}

// Subscribers returns the number of open subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Subscription is one subscriber's view of a Stream.
type Subscription struct {
	stream *Stream

	mu     sync.Mutex
	queue  []model.DownloadEvent
	notify chan struct{}

	out       chan model.DownloadEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Events delivers the subscription's events. It is closed after Close.
func (sub *Subscription) Events() <-chan model.DownloadEvent {
	return sub.out
}

// Close unsubscribes. Undelivered events are discarded.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.stream.remove(sub)
		close(sub.done)
	})
}

func (sub *Subscription) enqueue(ev model.DownloadEvent) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			ev := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case sub.out <- ev:
			case <-sub.done:
				return
			}
		}
	}
}
