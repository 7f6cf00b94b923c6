package framework

import (
	"sync"

	"github.com/golang/glog"
)

// ProgramStep is one step of a Program. Fn runs on every Step call until
// the step's budget is used up or Continue is requested.
type ProgramStep struct {
	Name string
	Fn   Task
	// Budget is how long, in milliseconds, the step lasts after it
	// first runs.
	Budget uint32
}

// ProgramStatus reports the progress of a Program.
type ProgramStatus struct {
	Running bool
	Done    bool
	Index   int
	Step    string
}

// Program executes steps sequentially from a scheduler task, with
// support for breaking out and skipping the current step.
type Program struct {
	Clock Clock
	Steps []ProgramStep
	// OnBreak runs when the program is broken out.
	OnBreak Task
	// OnDone runs after the last step finishes.
	OnDone Task

	running bool
	brk     bool
	skip    bool
	done    bool
	started bool
	index   int
	since   uint32
	lock    sync.Mutex
}

// Start starts the program from the first step.
func (p *Program) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.running, p.brk, p.skip, p.done = true, false, false, false
	p.index, p.started = 0, false
}

// Break requests the program to stop at the next Step.
func (p *Program) Break() {
	p.lock.Lock()
	p.brk = true
	p.lock.Unlock()
}

// Continue requests to end the current step and move on.
func (p *Program) Continue() {
	p.lock.Lock()
	p.skip = true
	p.lock.Unlock()
}

// Status returns current status.
func (p *Program) Status() ProgramStatus {
	p.lock.Lock()
	defer p.lock.Unlock()
	st := ProgramStatus{Running: p.running, Done: p.done, Index: p.index}
	if p.running && p.index < len(p.Steps) {
		st.Step = p.Steps[p.index].Name
	}
	return st
}

// Step advances the program. It's meant to be registered as a scheduler
// task.
func (p *Program) Step() {
	p.lock.Lock()
	if !p.running {
		p.lock.Unlock()
		return
	}
	if p.brk {
		p.reset()
		p.done = true
		p.lock.Unlock()
		glog.Warning("[PROG] program broken out")
		if fn := p.OnBreak; fn != nil {
			fn()
		}
		return
	}
	if p.index >= len(p.Steps) {
		p.reset()
		p.done = true
		p.lock.Unlock()
		glog.V(2).Info("[PROG] program done")
		if fn := p.OnDone; fn != nil {
			fn()
		}
		return
	}
	step := p.Steps[p.index]
	skip := p.skip
	p.skip = false
	if !p.started {
		p.started, p.since = true, p.now()
	}
	p.lock.Unlock()

	if !skip && step.Fn != nil {
		step.Fn()
	}

	p.lock.Lock()
	if skip || p.now()-p.since >= step.Budget {
		glog.V(2).Infof("[PROG] step %d %q finished", p.index, step.Name)
		p.index++
		p.started = false
	}
	p.lock.Unlock()
}

func (p *Program) reset() {
	p.running, p.brk, p.skip, p.started = false, false, false, false
	p.index = 0
}

func (p *Program) now() uint32 {
	if p.Clock == nil {
		return 0
	}
	return p.Clock.Millis()
}
