package docstore

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription delivers snapshots of a live query. Delivery is conflated:
// a consumer that falls behind only ever sees the latest snapshot.
// Updates is never closed; consumers select on Done as well.
type Subscription struct {
	id       string
	updates  chan Snapshot
	done     chan struct{}
	mu       sync.Mutex
	err      error
	once     sync.Once
	onCancel func()
}

// NewSubscription is used by backends. onCancel runs exactly once, on the
// first of Cancel or Fail.
func NewSubscription(onCancel func()) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		updates:  make(chan Snapshot, 1),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is nil after Cancel and the failure cause after Fail.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.finish(nil)
}

// Fail ends the subscription with err. It is a no-op once the subscription is done.
func (s *Subscription) Fail(err error) {
	s.finish(err)
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		close(s.done)
		s.mu.Unlock()
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// Deliver replaces any undelivered snapshot with snap. It reports false when
// the subscription is already done.
func (s *Subscription) Deliver(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
	return true
}
