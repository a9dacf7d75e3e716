package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RealtimeScheduler fires jobs against the wall clock.
//
// A dispatcher goroutine sleeps until the earliest job is due and then
// calls Dispatch. It never runs jobs itself: the owner calls RunDue from the
// goroutine that drives its session. After a dispatch the goroutine waits
// until RunDue, Schedule or Remove changes the queue.
type RealtimeScheduler struct {
	mu       sync.Mutex
	queue    jobQueue
	now      NowFunc
	dispatch func()
	logger   *slog.Logger

	wake   chan struct{} // buffered, size 1
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// RealtimeOption configures a RealtimeScheduler.
type RealtimeOption func(*RealtimeScheduler)

// WithNowFunc replaces the wall clock.
func WithNowFunc(now NowFunc) RealtimeOption {
	return func(s *RealtimeScheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger used by the dispatcher.
func WithSchedulerLogger(logger *slog.Logger) RealtimeOption {
	return func(s *RealtimeScheduler) { s.logger = logger }
}

// NewRealtimeScheduler creates a scheduler that calls dispatch whenever jobs
// fall due. The dispatcher starts on the first Schedule call.
func NewRealtimeScheduler(dispatch func(), opts ...RealtimeOption) *RealtimeScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RealtimeScheduler{
		now:      time.Now,
		dispatch: dispatch,
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RealtimeScheduler) CurrentTime() int64 {
	return millis(s.now)
}

func (s *RealtimeScheduler) Schedule(job Job, trig Trigger) *JobHandle {
	s.mu.Lock()
	h := s.queue.schedule(job, trig)
	s.mu.Unlock()
	s.start()
	s.signal()
	return h
}

func (s *RealtimeScheduler) Remove(h *JobHandle) bool {
	s.mu.Lock()
	removed := s.queue.remove(h)
	s.mu.Unlock()
	if removed {
		s.signal()
	}
	return removed
}

func (s *RealtimeScheduler) TimeToNextJob() int64 {
	now := s.CurrentTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.timeToNext(now)
}

func (s *RealtimeScheduler) Pending() []PendingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// RunDue runs every job whose fire time has passed, on the caller's
// goroutine, and returns how many ran along with their joined errors.
func (s *RealtimeScheduler) RunDue() (int, error) {
	defer s.signal()

	var errs []error
	ran := 0
	for {
		now := s.CurrentTime()
		s.mu.Lock()
		h, ok := s.queue.popDue(now)
		s.mu.Unlock()
		if !ok {
			return ran, errors.Join(errs...)
		}

		ran++
		if err := run(h, h.next); err != nil {
			s.logger.Warn("scheduled job failed", "job", h.id, "time", h.next, "error", err)
			errs = append(errs, fmt.Errorf("job %d at %d: %w", h.id, h.next, err))
		}

		s.mu.Lock()
		s.queue.reschedule(h)
		s.mu.Unlock()
	}
}

// Shutdown stops the dispatcher and waits for it to exit. Pending jobs are
// kept but no longer dispatched.
func (s *RealtimeScheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

func (s *RealtimeScheduler) start() {
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go s.run()
	})
}

func (s *RealtimeScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *RealtimeScheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wait := s.TimeToNextJob()
		switch {
		case wait == 0:
			s.logger.Debug("realtime jobs due")
			s.dispatch()
			// RunDue signals wake once it has drained the due jobs
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		case wait > 0:
			timer.Reset(time.Duration(wait) * time.Millisecond)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
