package lifecycle

import (
	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/types"
)

type msgKind int

const (
	msgCommand msgKind = iota
	msgEvent
	msgFunc
)

type message struct {
	kind     msgKind
	op       Op
	ev       *events.Event
	fn       func(*types.Workload) error
	resultCh chan error
}

// actor serializes every command and event concerning one workload through
// a single goroutine and channel, so a stop that arrives mid-start is
// never lost (spec section 4.4's concurrency note). It never terminates;
// it lives for the process lifetime, same as the workload it reduces.
type actor struct {
	workloadID string
	engine     *Engine
	inbox      chan *message

	// pendingRestart is set by doStop when a restart is in flight; only
	// the actor's own goroutine (via reduceCommand/reduceEvent) touches it.
	pendingRestart bool
}

func newActor(workloadID string, e *Engine) *actor {
	return &actor{
		workloadID: workloadID,
		engine:     e,
		inbox:      make(chan *message, 32),
	}
}

func (a *actor) submitCommand(op Op, resultCh chan error) {
	a.inbox <- &message{kind: msgCommand, op: op, resultCh: resultCh}
}

func (a *actor) submitEvent(ev *events.Event) {
	a.inbox <- &message{kind: msgEvent, ev: ev}
}

func (a *actor) submitFunc(fn func(*types.Workload) error, resultCh chan error) {
	a.inbox <- &message{kind: msgFunc, fn: fn, resultCh: resultCh}
}

func (a *actor) run() {
	for msg := range a.inbox {
		w, err := a.engine.store.GetWorkload(a.workloadID)
		if err != nil {
			if msg.resultCh != nil {
				msg.resultCh <- err
			}
			continue
		}

		switch msg.kind {
		case msgCommand:
			err := a.engine.reduceCommand(msg.op, w)
			if msg.resultCh != nil {
				msg.resultCh <- err
			}
		case msgEvent:
			if err := a.engine.reduceEvent(msg.ev, w, a); err != nil {
				a.engine.logger.Error().Err(err).Str("workload_id", a.workloadID).Msg("failed to reduce event")
			}
		case msgFunc:
			err := msg.fn(w)
			if msg.resultCh != nil {
				msg.resultCh <- err
			}
		}
	}
}
