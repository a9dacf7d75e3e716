package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PseudoScheduler is a scheduler over a manually advanced clock.
//
// Jobs run synchronously inside AdvanceTime. A job may schedule or remove
// jobs and may itself advance the clock; the nested advance completes
// before the outer one continues.
type PseudoScheduler struct {
	mu     sync.Mutex
	now    int64
	queue  jobQueue
	logger *slog.Logger
}

// NewPseudoScheduler starts the clock at start (epoch ms).
func NewPseudoScheduler(start int64, logger *slog.Logger) *PseudoScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PseudoScheduler{now: start, logger: logger}
}

func (s *PseudoScheduler) CurrentTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetTime moves the clock without running any job. It is used when a
// session is restored from a snapshot.
func (s *PseudoScheduler) SetTime(ms int64) {
	s.mu.Lock()
	s.now = ms
	s.mu.Unlock()
}

func (s *PseudoScheduler) Schedule(job Job, trig Trigger) *JobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.schedule(job, trig)
}

func (s *PseudoScheduler) Remove(h *JobHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.remove(h)
}

func (s *PseudoScheduler) TimeToNextJob() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.timeToNext(s.now)
}

func (s *PseudoScheduler) Pending() []PendingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// Shutdown is a no-op; a pseudo clock owns no goroutines.
func (s *PseudoScheduler) Shutdown() {}

// AdvanceTime moves the clock forward by d, running every job that falls
// due in fire-time order. While a job runs the clock reads that job's fire
// time. A failing job does not stop the advance; all job errors are joined
// and returned once the clock has reached its target.
func (s *PseudoScheduler) AdvanceTime(d time.Duration) (int64, error) {
	s.mu.Lock()
	target, ok := addMillis(s.now, d)
	if !ok {
		target = s.now
	}
	s.mu.Unlock()
	return s.advanceTo(target)
}

func (s *PseudoScheduler) advanceTo(target int64) (int64, error) {
	var errs []error
	for {
		s.mu.Lock()
		h, ok := s.queue.popDue(target)
		if !ok {
			if s.now < target {
				s.now = target
			}
			now := s.now
			s.mu.Unlock()
			return now, errors.Join(errs...)
		}
		fireTime := max(h.next, s.now)
		s.now = fireTime
		s.mu.Unlock()

		s.logger.Debug("pseudo clock firing job", "job", h.id, "time", fireTime)
		if err := run(h, fireTime); err != nil {
			s.logger.Warn("scheduled job failed", "job", h.id, "time", fireTime, "error", err)
			errs = append(errs, fmt.Errorf("job %d at %d: %w", h.id, fireTime, err))
		}

		s.mu.Lock()
		s.queue.reschedule(h)
		s.mu.Unlock()
	}
}
