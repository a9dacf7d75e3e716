package timer

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
)

// JobContext is passed to a running job.
type JobContext struct {
	Handle   *JobHandle
	FireTime int64
}

// Job is the payload executed when a trigger fires.
type Job func(jc JobContext) error

// Scheduler is the operational surface shared by both clock disciplines.
type Scheduler interface {
	Clock

	// Schedule queues job under trig. A trigger that is already exhausted
	// yields a handle that is never queued.
	Schedule(job Job, trig Trigger) *JobHandle

	// Remove dequeues a job. It is safe to call after the job fired or more
	// than once; it reports whether the job was still pending.
	Remove(h *JobHandle) bool

	// TimeToNextJob returns milliseconds until the earliest pending job,
	// zero when one is overdue, or -1 when nothing is scheduled.
	TimeToNextJob() int64

	// Pending returns the queued jobs in fire order.
	Pending() []PendingJob

	Shutdown()
}

// JobHandle identifies a scheduled job.
type JobHandle struct {
	id      int64
	job     Job
	trigger Trigger
	next    int64
	index   int // heap position, -1 when not queued
	removed bool
}

// ID returns the scheduler-assigned job id.
func (h *JobHandle) ID() int64 { return h.id }

// Trigger returns the trigger driving the job.
func (h *JobHandle) Trigger() Trigger { return h.trigger }

// Queued reports whether the job is waiting to fire.
func (h *JobHandle) Queued() bool { return h.index >= 0 }

func (h *JobHandle) String() string {
	return fmt.Sprintf("job#%d@%d", h.id, h.next)
}

// PendingJob is a snapshot entry returned by Scheduler.Pending.
type PendingJob struct {
	Handle   *JobHandle
	FireTime int64
}

// jobQueue orders handles by (next fire time, id).
type jobQueue struct {
	items  jobHeap
	nextID int64
}

func (q *jobQueue) schedule(job Job, trig Trigger) *JobHandle {
	q.nextID++
	h := &JobHandle{id: q.nextID, job: job, trigger: trig, index: -1}
	if at, ok := trig.Peek(); ok {
		h.next = at
		heap.Push(&q.items, h)
	}
	return h
}

func (q *jobQueue) remove(h *JobHandle) bool {
	if h == nil {
		return false
	}
	h.removed = true
	if h.index < 0 {
		return false
	}
	heap.Remove(&q.items, h.index)
	return true
}

func (q *jobQueue) peek() (*JobHandle, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// popDue removes the earliest job when it fires at or before limit.
func (q *jobQueue) popDue(limit int64) (*JobHandle, bool) {
	h, ok := q.peek()
	if !ok || h.next > limit {
		return nil, false
	}
	heap.Pop(&q.items)
	return h, true
}

// reschedule advances the trigger of a job that just ran and requeues it
// when another fire time remains.
func (q *jobQueue) reschedule(h *JobHandle) {
	if h.removed {
		return
	}
	if at, ok := h.trigger.Advance(); ok {
		h.next = at
		heap.Push(&q.items, h)
	}
}

func (q *jobQueue) timeToNext(now int64) int64 {
	h, ok := q.peek()
	if !ok {
		return -1
	}
	return max(h.next-now, 0)
}

func (q *jobQueue) pending() []PendingJob {
	out := make([]PendingJob, 0, len(q.items))
	for _, h := range q.items {
		out = append(out, PendingJob{Handle: h, FireTime: h.next})
	}
	sortPending(out)
	return out
}

func sortPending(p []PendingJob) {
	slices.SortFunc(p, func(a, b PendingJob) int {
		return cmp.Or(cmp.Compare(a.FireTime, b.FireTime), cmp.Compare(a.Handle.id, b.Handle.id))
	})
}

// run executes one job, converting a panic into an error.
func run(h *JobHandle, fireTime int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.job(JobContext{Handle: h, FireTime: fireTime})
}

type jobHeap []*JobHandle

func (jobHeap) less(a, b *JobHandle) bool {
	if a.next != b.next {
		return a.next < b.next
	}
	return a.id < b.id
}

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h.less(h[i], h[j]) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*JobHandle)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
