package agent

import (
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Phase is the scheduler state of an agent loop.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseExecuting Phase = "executing"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

const (
	phaseIdle      statekit.StateID = statekit.StateID(PhaseIdle)
	phaseExecuting statekit.StateID = statekit.StateID(PhaseExecuting)
	phaseFailed    statekit.StateID = statekit.StateID(PhaseFailed)
	phaseCancelled statekit.StateID = statekit.StateID(PhaseCancelled)
)

const (
	evSelect   statekit.EventType = "SELECT"
	evDispatch statekit.EventType = "DISPATCH"
	evSucceed  statekit.EventType = "SUCCEED"
	evFail     statekit.EventType = "FAIL"
	evStop     statekit.EventType = "STOP"
	evStart    statekit.EventType = "START"
)

// phaseCounts is the machine context: how often each phase was entered.
type phaseCounts struct {
	Dispatched int
	Failed     int
}

// newPhaseMachine builds the scheduler statechart. Every event is handled in
// every state; a cancelled loop ignores everything but START, so an action
// completing after Stop does not resurrect the loop.
func newPhaseMachine(counts *phaseCounts) (*statekit.MachineConfig[*phaseCounts], error) {
	return statekit.NewMachine[*phaseCounts]("scheduler").
		WithInitial(phaseIdle).
		WithContext(counts).
		WithAction("countDispatch", func(c **phaseCounts, _ statekit.Event) { (*c).Dispatched++ }).
		WithAction("countFailure", func(c **phaseCounts, _ statekit.Event) { (*c).Failed++ }).
		State(phaseIdle).
		On(evSelect).Target(phaseIdle).
		On(evDispatch).Target(phaseExecuting).Do("countDispatch").
		On(evSucceed).Target(phaseIdle).
		On(evFail).Target(phaseFailed).Do("countFailure").
		On(evStop).Target(phaseCancelled).
		On(evStart).Target(phaseIdle).
		Done().
		State(phaseExecuting).
		On(evSelect).Target(phaseIdle).
		On(evDispatch).Target(phaseExecuting).Do("countDispatch").
		On(evSucceed).Target(phaseIdle).
		On(evFail).Target(phaseFailed).Do("countFailure").
		On(evStop).Target(phaseCancelled).
		On(evStart).Target(phaseExecuting).
		Done().
		State(phaseFailed).
		On(evSelect).Target(phaseIdle).
		On(evDispatch).Target(phaseExecuting).Do("countDispatch").
		On(evSucceed).Target(phaseIdle).
		On(evFail).Target(phaseFailed).Do("countFailure").
		On(evStop).Target(phaseCancelled).
		On(evStart).Target(phaseIdle).
		Done().
		State(phaseCancelled).
		On(evSelect).Target(phaseCancelled).
		On(evDispatch).Target(phaseCancelled).
		On(evSucceed).Target(phaseCancelled).
		On(evFail).Target(phaseCancelled).
		On(evStop).Target(phaseCancelled).
		On(evStart).Target(phaseIdle).
		Done().
		Build()
}

// phaseTracker serialises access to the statekit interpreter, which is read
// by health checks and control tools while the loop drives it.
type phaseTracker struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[*phaseCounts]
	stats  *phaseCounts
}

func newPhaseTracker() (*phaseTracker, error) {
	stats := &phaseCounts{}
	machine, err := newPhaseMachine(stats)
	if err != nil {
		return nil, err
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &phaseTracker{interp: interp, stats: stats}, nil
}

func (p *phaseTracker) send(ev statekit.EventType) Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interp.Send(statekit.Event{Type: ev})
	return Phase(p.interp.State().Value)
}

func (p *phaseTracker) current() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Phase(p.interp.State().Value)
}

func (p *phaseTracker) counts() phaseCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.stats
}
