package admin

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/martiert/bongbot/internal/config"
)

const teardownTimeout = 30 * time.Second

// Memberships removes room memberships after an event ends.
type Memberships interface {
	DeleteMembership(ctx context.Context, membershipID string) error
}

// Supervisor tears down child instances when their time is up or they
// exit early. Teardown interrupts the child, returns its slot to the
// pool and removes the bot memberships from the event room.
type Supervisor struct {
	memberships Memberships
	pool        *Pool
	afterFunc   AfterFunc
	logger      *slog.Logger

	mu      sync.Mutex
	watches map[config.Secret]*watch
}

type watch struct {
	proc          Process
	slot          *Slot
	membershipIDs []string

	timer    TimerHandle
	teardown sync.Once
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithAfterFunc replaces the timer implementation, for tests.
func WithAfterFunc(fn AfterFunc) SupervisorOption {
	return func(s *Supervisor) {
		s.afterFunc = fn
	}
}

// NewSupervisor creates a supervisor releasing slots back to pool.
func NewSupervisor(memberships Memberships, pool *Pool, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		memberships: memberships,
		pool:        pool,
		afterFunc:   DefaultAfterFunc,
		logger:      slog.Default(),
		watches:     make(map[config.Secret]*watch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch schedules teardown of proc after d, and also tears down if the
// child exits on its own before the deadline.
func (s *Supervisor) Watch(proc Process, slot *Slot, d time.Duration, membershipIDs []string) {
	w := &watch{
		proc:          proc,
		slot:          slot,
		membershipIDs: membershipIDs,
	}
	w.timer = s.afterFunc(d, func() {
		s.tearDown(w, true)
	})

	s.mu.Lock()
	s.watches[slot.Token] = w
	s.mu.Unlock()

	go func() {
		if err := proc.Wait(); err != nil {
			s.logger.Warn("child instance exited with error",
				"port", w.slot.Port, "error", err)
		}
		s.tearDown(w, false)
	}()
}

// Active returns the number of supervised instances.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Shutdown tears down every supervised instance immediately.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	watches := make([]*watch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		s.tearDown(w, true)
	}
}

func (s *Supervisor) tearDown(w *watch, interrupt bool) {
	w.teardown.Do(func() {
		w.timer.Stop()

		if interrupt {
			if err := w.proc.Signal(os.Interrupt); err != nil {
				s.logger.Warn("interrupting child instance",
					"port", w.slot.Port, "error", err)
			}
		}

		s.pool.Release(w.slot.Token)

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		for _, id := range w.membershipIDs {
			if err := s.memberships.DeleteMembership(ctx, id); err != nil {
				s.logger.Warn("removing event room membership",
					"membership", id, "error", err)
			}
		}

		s.mu.Lock()
		delete(s.watches, w.slot.Token)
		s.mu.Unlock()

		s.logger.Info("child instance torn down", "port", w.slot.Port)
	})
}
