package realtime

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled task handle.
type Timer interface {
	// Stop cancels the task if it has not fired; it reports whether the
	// cancellation took effect.
	Stop() bool
}

// Scheduler schedules delayed tasks. The manager routes every retry and
// debounce timer through this interface so tests can drive time
// deterministically instead of sleeping.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// realScheduler delegates to the runtime timer wheel.
type realScheduler struct{}

// NewScheduler returns the wall-clock Scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler is a deterministic Scheduler for tests: tasks fire only
// when Advance moves the fake clock past their deadline.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks map[int]*manualTask
}

type manualTask struct {
	at time.Duration
	f  func()
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]*manualTask)}
}

type manualTimer struct {
	s  *ManualScheduler
	id int
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tasks[t.id]; !ok {
		return false
	}
	delete(t.s.tasks, t.id)
	return true
}

// AfterFunc implements Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := s.seq
	s.tasks[id] = &manualTask{at: s.now + d, f: f}
	return &manualTimer{s: s, id: id}
}

// Pending returns the number of scheduled, unfired tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// NextDelay returns the delay until the earliest pending task, or false when
// none are pending.
func (s *ManualScheduler) NextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := time.Duration(-1)
	for _, task := range s.tasks {
		if best < 0 || task.at-s.now < best {
			best = task.at - s.now
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Advance moves the fake clock forward and fires every task whose deadline
// has passed, in deadline order. Tasks scheduled by fired tasks fire too if
// they fall within the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var dueID int
		var due *manualTask
		for id, task := range s.tasks {
			if task.at > target {
				continue
			}
			if due == nil || task.at < due.at || (task.at == due.at && id < dueID) {
				dueID, due = id, task
			}
		}
		if due == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		delete(s.tasks, dueID)
		s.now = due.at
		s.mu.Unlock()

		due.f()
	}
}

// FireAll fires every pending task immediately, in deadline order.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	pending := make([]*manualTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		pending = append(pending, task)
	}
	s.tasks = make(map[int]*manualTask)
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].at < pending[j].at })
	for _, task := range pending {
		task.f()
	}
}
