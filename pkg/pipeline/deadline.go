package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
)

// Deadline is a pending auto-completion.
type Deadline struct {
	RecordingID string    `json:"recording_id"`
	At          time.Time `json:"at"`
}

func deadlineLess(a, b Deadline) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.RecordingID < b.RecordingID
}

// FireFunc runs when a recording's deadline passes.
type FireFunc func(ctx context.Context, recordingID string)

// Scheduler holds at most one deadline per recording, ordered by time. A
// single goroutine sleeps until the earliest deadline and fires it.
type Scheduler struct {
	fire FireFunc

	mu    sync.Mutex
	tree  *btree.BTreeG[Deadline]
	index map[string]time.Time
	wake  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. Deadlines may be scheduled
// before Start; they fire once it runs.
func NewScheduler(fire FireFunc) *Scheduler {
	return &Scheduler{
		fire:  fire,
		tree:  btree.NewG(16, deadlineLess),
		index: make(map[string]time.Time),
		wake:  make(chan struct{}, 1),
	}
}

// Schedule sets recordingID's deadline to at, replacing any existing one.
func (s *Scheduler) Schedule(recordingID string, at time.Time) {
	s.mu.Lock()
	if old, ok := s.index[recordingID]; ok {
		s.tree.Delete(Deadline{RecordingID: recordingID, At: old})
	}
	s.tree.ReplaceOrInsert(Deadline{RecordingID: recordingID, At: at})
	s.index[recordingID] = at
	pendingDeadlines.Set(float64(len(s.index)))
	s.mu.Unlock()

	s.notify()
}

// Cancel removes recordingID's deadline and reports whether one existed.
func (s *Scheduler) Cancel(recordingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.index[recordingID]
	if !ok {
		return false
	}
	s.tree.Delete(Deadline{RecordingID: recordingID, At: at})
	delete(s.index, recordingID)
	pendingDeadlines.Set(float64(len(s.index)))
	return true
}

// Get returns recordingID's pending deadline.
func (s *Scheduler) Get(recordingID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.index[recordingID]
	return at, ok
}

// Pending returns all deadlines, earliest first.
func (s *Scheduler) Pending() []Deadline {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Deadline, 0, s.tree.Len())
	s.tree.Ascend(func(d Deadline) bool {
		out = append(out, d)
		return true
	})
	return out
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Start runs the timer loop until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Go(func() { s.run(ctx) })
}

// Stop ends the loop and waits for fired deadlines to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		due, wait, ok := s.takeDue(time.Now())
		for _, id := range due {
			s.wg.Go(func() { s.fire(ctx, id) })
		}

		var timeout <-chan time.Time
		var timer *time.Timer
		if ok {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// takeDue removes and returns every deadline at or before now, plus the
// wait until the next one (ok is false when none remain).
func (s *Scheduler) takeDue(now time.Time) (due []string, wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		next, found := s.tree.Min()
		if !found {
			break
		}
		if next.At.After(now) {
			pendingDeadlines.Set(float64(len(s.index)))
			return due, next.At.Sub(now), true
		}
		s.tree.DeleteMin()
		delete(s.index, next.RecordingID)
		due = append(due, next.RecordingID)
	}
	pendingDeadlines.Set(float64(len(s.index)))
	return due, 0, false
}
