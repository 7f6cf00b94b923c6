package framework

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/golang/glog"
)

// ErrInvalidHandle indicates the handle doesn't refer to a registered task,
// either never registered or already removed.
var ErrInvalidHandle = errors.New("invalid task handle")

// Handle identifies a registered task. A handle of a removed task stays
// invalid even after its slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

// IsValid tells if the handle was ever issued. It doesn't check whether
// the task is still registered.
func (h Handle) IsValid() bool {
	return h.gen != 0
}

type slot struct {
	name    string
	task    Task
	fn      uintptr
	rate    float64
	period  uint32
	lastRun uint32
	enabled bool
	used    bool
	gen     uint32
	// worst observed run time in ms.
	maxRun uint32
}

// TaskInfo is a snapshot of a registered task.
type TaskInfo struct {
	Handle  Handle
	Name    string
	Rate    float64
	Period  uint32
	LastRun uint32
	Enabled bool
	// MaxDuration is the longest single run of the task, at the
	// resolution of the clock.
	MaxDuration time.Duration
}

// Scheduler runs periodic tasks cooperatively. Every task has its own
// rate and is executed from Run when its period has elapsed since the
// last execution. Tasks never run concurrently with each other.
type Scheduler struct {
	Clock Clock
	// OnIdle is invoked after every pass of Run.
	OnIdle Task
	// ReportInterval is the period in ms of logging the task table at
	// glog V(2). Zero disables the report.
	ReportInterval uint32

	lastReport uint32

	slots []slot
	free  []uint32
	lock  sync.Mutex
}

// NewScheduler creates a Scheduler with the given clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{Clock: clock}
}

// PeriodOf converts a rate in Hz to a period in milliseconds,
// never less than 1.
func PeriodOf(rate float64) uint32 {
	if rate <= 0 || math.IsNaN(rate) {
		return 1
	}
	p := math.Round(1000 / rate)
	if p < 1 {
		return 1
	}
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}

func funcID(t Task) uintptr {
	if t == nil {
		return 0
	}
	return reflect.ValueOf(t).Pointer()
}

// Register adds a task running at rate Hz.
func (s *Scheduler) Register(name string, task Task, rate float64, enabled bool) Handle {
	s.lock.Lock()
	defer s.lock.Unlock()
	var index uint32
	if n := len(s.free); n > 0 {
		index, s.free = s.free[n-1], s.free[:n-1]
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[index]
	gen := sl.gen + 1
	if gen == 0 {
		gen = 1
	}
	*sl = slot{
		name:    name,
		task:    task,
		fn:      funcID(task),
		rate:    rate,
		period:  PeriodOf(rate),
		lastRun: s.now(),
		enabled: enabled,
		used:    true,
		gen:     gen,
	}
	glog.V(2).Infof("[SCHED] task %q registered at %.2fHz period=%dms", name, rate, sl.period)
	return Handle{index: index, gen: gen}
}

// Remove unregisters a task. It's safe to call from inside a running task,
// including the task being removed.
func (s *Scheduler) Remove(h Handle) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	sl := s.lookup(h)
	if sl == nil {
		return ErrInvalidHandle
	}
	glog.V(2).Infof("[SCHED] task %q removed", sl.name)
	*sl = slot{gen: sl.gen}
	s.free = append(s.free, h.index)
	return nil
}

// Enable enables a task.
func (s *Scheduler) Enable(h Handle) error {
	return s.update(h, func(sl *slot) { sl.enabled = true })
}

// Disable disables a task.
func (s *Scheduler) Disable(h Handle) error {
	return s.update(h, func(sl *slot) { sl.enabled = false })
}

// SetRate changes the rate of a task and recomputes its period.
func (s *Scheduler) SetRate(h Handle, rate float64) error {
	return s.update(h, func(sl *slot) {
		sl.rate, sl.period = rate, PeriodOf(rate)
	})
}

// Info returns a snapshot of a task.
func (s *Scheduler) Info(h Handle) (TaskInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	sl := s.lookup(h)
	if sl == nil {
		return TaskInfo{}, ErrInvalidHandle
	}
	return sl.info(h), nil
}

// Tasks returns snapshots of all registered tasks in slot order.
func (s *Scheduler) Tasks() []TaskInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	infos := make([]TaskInfo, 0, len(s.slots))
	for i := range s.slots {
		if sl := &s.slots[i]; sl.used {
			infos = append(infos, sl.info(Handle{index: uint32(i), gen: sl.gen}))
		}
	}
	return infos
}

// Lookup finds all handles registered with the same task function.
// Closures created from the same function literal share an identity, so
// this is a multi-match convenience, not an exact key.
func (s *Scheduler) Lookup(task Task) []Handle {
	id := funcID(task)
	s.lock.Lock()
	defer s.lock.Unlock()
	var handles []Handle
	for i := range s.slots {
		if sl := &s.slots[i]; sl.used && sl.fn == id {
			handles = append(handles, Handle{index: uint32(i), gen: sl.gen})
		}
	}
	return handles
}

// EnableFunc enables all tasks matching the function and returns the count.
func (s *Scheduler) EnableFunc(task Task) int {
	return s.applyFunc(task, s.Enable)
}

// DisableFunc disables all tasks matching the function and returns the count.
func (s *Scheduler) DisableFunc(task Task) int {
	return s.applyFunc(task, s.Disable)
}

// RemoveFunc removes all tasks matching the function and returns the count.
func (s *Scheduler) RemoveFunc(task Task) int {
	return s.applyFunc(task, s.Remove)
}

// Run executes every enabled task whose period has elapsed. The clock is
// read once per pass. The last run time is set to the tick of the pass,
// not the due tick, so drift accumulates. Tasks registered during the pass
// are first considered in the next pass.
func (s *Scheduler) Run() {
	now := s.now()
	s.lock.Lock()
	n := len(s.slots)
	s.lock.Unlock()
	for i := 0; i < n; i++ {
		task, gen := s.due(i, now)
		if task == nil {
			continue
		}
		start := s.now()
		task()
		s.measure(i, gen, s.now()-start)
	}
	if idle := s.OnIdle; idle != nil {
		idle()
	}
	s.report(now)
}

func (s *Scheduler) due(i int, now uint32) (Task, uint32) {
	s.lock.Lock()
	defer s.lock.Unlock()
	sl := &s.slots[i]
	if !sl.used || !sl.enabled || sl.task == nil {
		return nil, 0
	}
	if now-sl.lastRun < sl.period {
		return nil, 0
	}
	sl.lastRun = now
	return sl.task, sl.gen
}

// measure records the run time unless the slot was removed by the task.
func (s *Scheduler) measure(i int, gen, elapsed uint32) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if sl := &s.slots[i]; sl.used && sl.gen == gen && elapsed > sl.maxRun {
		sl.maxRun = elapsed
	}
}

// ResetStats clears the worst run time of every task.
func (s *Scheduler) ResetStats() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.slots {
		s.slots[i].maxRun = 0
	}
}

func (s *Scheduler) report(now uint32) {
	if s.ReportInterval == 0 || now-s.lastReport < s.ReportInterval {
		return
	}
	s.lastReport = now
	if !glog.V(2) {
		return
	}
	for _, info := range s.Tasks() {
		glog.Infof("[SCHED] %-12s period=%dms max=%v enabled=%v",
			info.Name, info.Period, info.MaxDuration, info.Enabled)
	}
}

func (s *Scheduler) now() uint32 {
	if s.Clock == nil {
		return 0
	}
	return s.Clock.Millis()
}

func (s *Scheduler) lookup(h Handle) *slot {
	if !h.IsValid() || int(h.index) >= len(s.slots) {
		return nil
	}
	sl := &s.slots[h.index]
	if !sl.used || sl.gen != h.gen {
		return nil
	}
	return sl
}

func (s *Scheduler) update(h Handle, fn func(*slot)) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	sl := s.lookup(h)
	if sl == nil {
		return ErrInvalidHandle
	}
	fn(sl)
	return nil
}

func (s *Scheduler) applyFunc(task Task, op func(Handle) error) int {
	var count int
	for _, h := range s.Lookup(task) {
		if op(h) == nil {
			count++
		}
	}
	return count
}

func (sl *slot) info(h Handle) TaskInfo {
	return TaskInfo{
		Handle:  h,
		Name:    sl.name,
		Rate:    sl.rate,
		Period:  sl.period,
		LastRun: sl.lastRun,
		Enabled: sl.enabled,

		MaxDuration: time.Duration(sl.maxRun) * time.Millisecond,
	}
}
