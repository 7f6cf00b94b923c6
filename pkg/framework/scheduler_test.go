package framework

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type schedulerTestEnv struct {
	t      *testing.T
	clock  *ManualClock
	sched  *Scheduler
	counts map[string]int
	trace  []string
}

func newSchedulerTestEnv(t *testing.T) *schedulerTestEnv {
	env := &schedulerTestEnv{t: t, clock: &ManualClock{}, counts: make(map[string]int)}
	env.sched = NewScheduler(env.clock)
	return env
}

func (e *schedulerTestEnv) counter(name string) Task {
	return func() {
		e.counts[name]++
		e.trace = append(e.trace, name)
	}
}

func (e *schedulerTestEnv) add(name string, rate float64) Handle {
	return e.sched.Register(name, e.counter(name), rate, true)
}

// drive advances the clock 1ms at a time and runs the scheduler after each tick.
func (e *schedulerTestEnv) drive(ms int) {
	for i := 0; i < ms; i++ {
		e.clock.Advance(1)
		e.sched.Run()
	}
}

func globalTestTask() {}

func TestPeriodOf(t *testing.T) {
	testCases := []struct {
		rate   float64
		period uint32
	}{
		{0, 1},
		{-10, 1},
		{1, 1000},
		{3, 333},
		{100, 10},
		{1000, 1},
		{2000, 1},
		{5000, 1},
		{0.5, 2000},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%v", tc.rate), func(t *testing.T) {
			require.Equal(t, tc.period, PeriodOf(tc.rate))
		})
	}
}

func TestSchedulerRunsDueTasks(t *testing.T) {
	env := newSchedulerTestEnv(t)
	env.add("fast", 100)
	env.add("slow", 50)
	env.add("off", 0)
	env.drive(100)
	require.Equal(t, 10, env.counts["fast"])
	require.Equal(t, 5, env.counts["slow"])
	require.Equal(t, 100, env.counts["off"])
}

func TestSchedulerFairness(t *testing.T) {
	rates := []float64{1000, 333, 100, 40, 7}
	env := newSchedulerTestEnv(t)
	for i, rate := range rates {
		env.add(fmt.Sprintf("task%d", i), rate)
	}
	const total = 1000
	env.drive(total)
	for i, rate := range rates {
		period := int(PeriodOf(rate))
		min := total/period - 1
		require.GreaterOrEqualf(t, env.counts[fmt.Sprintf("task%d", i)], min, "task%d", i)
	}
}

func TestSchedulerAcceptsDrift(t *testing.T) {
	env := newSchedulerTestEnv(t)
	h := env.add("task", 100)
	env.clock.Advance(15)
	env.sched.Run()
	require.Equal(t, 1, env.counts["task"])
	info, err := env.sched.Info(h)
	require.NoError(t, err)
	require.Equal(t, uint32(15), info.LastRun)

	env.clock.Advance(9)
	env.sched.Run()
	require.Equal(t, 1, env.counts["task"])
	env.clock.Advance(1)
	env.sched.Run()
	require.Equal(t, 2, env.counts["task"])
}

func TestSchedulerClockWrapAround(t *testing.T) {
	env := newSchedulerTestEnv(t)
	env.clock.Set(0xfffffff0)
	env.add("task", 100)
	env.drive(20)
	require.Equal(t, 2, env.counts["task"])
}

func TestSchedulerEnableDisableSetRate(t *testing.T) {
	env := newSchedulerTestEnv(t)
	h := env.sched.Register("task", env.counter("task"), 100, false)
	env.drive(50)
	require.Zero(t, env.counts["task"])

	require.NoError(t, env.sched.Enable(h))
	env.drive(50)
	require.Equal(t, 5, env.counts["task"])

	require.NoError(t, env.sched.SetRate(h, 500))
	info, err := env.sched.Info(h)
	require.NoError(t, err)
	require.Equal(t, uint32(2), info.Period)
	require.Equal(t, float64(500), info.Rate)
	env.drive(10)
	require.Equal(t, 10, env.counts["task"])

	require.NoError(t, env.sched.Disable(h))
	env.drive(10)
	require.Equal(t, 10, env.counts["task"])
}

func TestSchedulerStaleHandle(t *testing.T) {
	env := newSchedulerTestEnv(t)
	h1 := env.add("a", 100)
	require.NoError(t, env.sched.Remove(h1))
	require.Equal(t, ErrInvalidHandle, env.sched.Remove(h1))
	require.Equal(t, ErrInvalidHandle, env.sched.Enable(h1))
	require.Equal(t, ErrInvalidHandle, env.sched.SetRate(h1, 10))

	h2 := env.add("b", 100)
	require.NotEqual(t, h1, h2)
	require.Equal(t, ErrInvalidHandle, env.sched.Disable(h1))
	require.NoError(t, env.sched.Disable(h2))

	require.Equal(t, ErrInvalidHandle, env.sched.Enable(Handle{}))
	require.False(t, Handle{}.IsValid())
}

func TestSchedulerRemoveDuringRun(t *testing.T) {
	env := newSchedulerTestEnv(t)
	var victim, self Handle
	env.sched.Register("killer", func() {
		env.trace = append(env.trace, "killer")
		env.sched.Remove(victim)
	}, 1000, true)
	self = env.sched.Register("self", func() {
		env.trace = append(env.trace, "self")
		require.NoError(t, env.sched.Remove(self))
	}, 1000, true)
	victim = env.add("victim", 1000)
	env.add("survivor", 1000)

	env.drive(1)
	require.Equal(t, []string{"killer", "self", "survivor"}, env.trace)

	env.trace = nil
	env.drive(1)
	require.Equal(t, []string{"killer", "survivor"}, env.trace)
	require.Len(t, env.sched.Tasks(), 2)
}

func TestSchedulerRegisterDuringRun(t *testing.T) {
	env := newSchedulerTestEnv(t)
	var added bool
	env.sched.Register("spawner", func() {
		if !added {
			added = true
			env.add("child", 1000)
		}
	}, 1000, true)
	env.drive(1)
	require.Zero(t, env.counts["child"])
	env.drive(1)
	require.Equal(t, 1, env.counts["child"])
}

func TestSchedulerLookupMultiMatch(t *testing.T) {
	env := newSchedulerTestEnv(t)
	h1 := env.sched.Register("g1", globalTestTask, 10, true)
	h2 := env.sched.Register("g2", globalTestTask, 20, true)
	other := env.add("other", 10)

	require.ElementsMatch(t, []Handle{h1, h2}, env.sched.Lookup(globalTestTask))
	require.Equal(t, 2, env.sched.DisableFunc(globalTestTask))
	for _, info := range env.sched.Tasks() {
		require.Equal(t, info.Handle == other, info.Enabled)
	}
	require.Equal(t, 2, env.sched.EnableFunc(globalTestTask))
	require.Equal(t, 2, env.sched.RemoveFunc(globalTestTask))
	require.Empty(t, env.sched.Lookup(globalTestTask))
	require.Len(t, env.sched.Tasks(), 1)
}

func TestSchedulerOnIdle(t *testing.T) {
	env := newSchedulerTestEnv(t)
	var idle int
	env.sched.OnIdle = func() { idle++ }
	env.drive(3)
	require.Equal(t, 3, idle)
}

func TestSchedulerMaxDuration(t *testing.T) {
	env := newSchedulerTestEnv(t)
	costs := []uint32{3, 7, 2}
	var runs int
	h := env.sched.Register("busy", func() {
		env.clock.Advance(costs[runs%len(costs)])
		runs++
	}, 100, true)
	quick := env.add("quick", 100)

	for i := 0; i < len(costs); i++ {
		env.clock.Advance(10)
		env.sched.Run()
	}
	require.Equal(t, len(costs), runs)
	info, err := env.sched.Info(h)
	require.NoError(t, err)
	require.Equal(t, 7*time.Millisecond, info.MaxDuration)
	info, err = env.sched.Info(quick)
	require.NoError(t, err)
	require.Zero(t, info.MaxDuration)

	env.sched.ResetStats()
	info, err = env.sched.Info(h)
	require.NoError(t, err)
	require.Zero(t, info.MaxDuration)
}

func TestSchedulerReadsClockOncePerPass(t *testing.T) {
	env := newSchedulerTestEnv(t)
	env.sched.Register("slow", func() { env.clock.Advance(5) }, 100, true)
	env.clock.Advance(3)
	env.add("next", 100)
	env.clock.Advance(7)
	// "next" is due at 13, the pass starts at 10 and "slow" moves the
	// clock to 15 before "next" is visited.
	env.sched.Run()
	require.Zero(t, env.counts["next"])
	env.sched.Run()
	require.Equal(t, 1, env.counts["next"])
}

func TestSchedulerStatsNotInherited(t *testing.T) {
	env := newSchedulerTestEnv(t)
	var h Handle
	h = env.sched.Register("once", func() {
		env.clock.Advance(4)
		require.NoError(t, env.sched.Remove(h))
	}, 100, true)
	env.clock.Advance(10)
	env.sched.Run()
	reused := env.add("reused", 100)
	info, err := env.sched.Info(reused)
	require.NoError(t, err)
	require.Zero(t, info.MaxDuration)
}
