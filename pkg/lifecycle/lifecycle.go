// Package lifecycle implements the workload lifecycle engine (spec section
// 4.4): the state machine, its per-workload serialized reducer, environment
// composition, and crash-counter/restart-policy enforcement. The
// command-dispatch shape (a single entry point switching on an operation
// name, guarded against concurrent mutation) is grounded on
// pkg/manager/fsm.go's Apply; here the guard is a per-workload actor
// goroutine rather than one global mutex, because spec section 5 requires
// serialization per workload, not cluster-wide.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/gateway"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/metrics"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Op is a lifecycle command name.
type Op string

const (
	OpInstall         Op = "install"
	OpStart           Op = "start"
	OpStop            Op = "stop"
	OpRestart         Op = "restart"
	OpSuspend         Op = "suspend"
	OpUnsuspend       Op = "unsuspend"
	OpTransfer        Op = "transfer"
	OpResetCrashCount Op = "reset-crash-count"
)

// allowedFrom lists the states a command may originate from. Commands
// absent here (reset-crash-count) are permitted from any state.
var allowedFrom = map[Op]map[types.Status]bool{
	OpInstall: {types.StatusStopped: true, types.StatusCrashed: true},
	OpStart:   {types.StatusStopped: true, types.StatusCrashed: true},
	OpStop:    {types.StatusStarting: true, types.StatusRunning: true},
	OpRestart: {types.StatusRunning: true},
	OpSuspend: {
		types.StatusStopped: true, types.StatusInstalling: true, types.StatusInstalled: true,
		types.StatusStarting: true, types.StatusRunning: true, types.StatusStopping: true,
		types.StatusCrashed: true, types.StatusSuspended: true,
	},
	OpUnsuspend: {types.StatusSuspended: true},
	OpTransfer:  {types.StatusStopped: true},
}

// Engine owns one actor per workload and reduces both control-plane
// commands and inbound agent events through it, so a stop that arrives
// mid-start is never lost (spec section 4.4's concurrency note).
type Engine struct {
	store   storage.Store
	gateway *gateway.Gateway
	broker  *events.Broker
	cfg     config.Config
	logger  zerolog.Logger

	mu     sync.Mutex
	actors map[string]*actor

	sub    events.Subscriber
	stopCh chan struct{}
}

// New constructs an Engine. Call Start to begin reducing inbound events.
func New(store storage.Store, gw *gateway.Gateway, broker *events.Broker, cfg config.Config) *Engine {
	return &Engine{
		store:   store,
		gateway: gw,
		broker:  broker,
		cfg:     cfg,
		logger:  logging.WithComponent("lifecycle"),
		actors:  make(map[string]*actor),
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to the event broker and begins routing status_update
// events (and their crash/restart consequences) into each workload's actor.
func (e *Engine) Start() {
	e.sub = e.broker.Subscribe()
	go e.run()
}

func (e *Engine) Stop() {
	close(e.stopCh)
	e.broker.Unsubscribe(e.sub)
}

func (e *Engine) run() {
	for {
		select {
		case ev, ok := <-e.sub:
			if !ok {
				return
			}
			if ev.Type == events.EventStatusUpdate && ev.WorkloadID != "" {
				e.actorFor(ev.WorkloadID).submitEvent(ev)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) actorFor(workloadID string) *actor {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.actors[workloadID]
	if !ok {
		a = newActor(workloadID, e)
		e.actors[workloadID] = a
		go a.run()
	}
	return a
}

// Dispatch reduces a command through workloadID's actor and blocks for the
// result. This is the entry point for install/start/stop/restart/
// suspend/unsuspend/transfer/reset-crash-count.
func (e *Engine) Dispatch(workloadID string, op Op) error {
	resultCh := make(chan error, 1)
	e.actorFor(workloadID).submitCommand(op, resultCh)
	return <-resultCh
}

// reduceCommand is the actual state machine, run only from the owning
// actor's goroutine.
func (e *Engine) reduceCommand(op Op, w *types.Workload) error {
	if op == OpResetCrashCount {
		if w.Status == types.StatusSuspended && e.cfg.SuspensionEnforced && !e.cfg.AllowCrashResetWhileSuspended {
			return catalysterr.New(catalysterr.Locked, "workload is suspended")
		}
		return e.resetCrashCount(w)
	}

	if err := e.checkSuspension(op, w); err != nil {
		return err
	}

	allowed, ok := allowedFrom[op]
	if !ok || !allowed[w.Status] {
		return catalysterr.New(catalysterr.InvalidState, fmt.Sprintf("%s not allowed from state %s", op, w.Status))
	}

	switch op {
	case OpInstall:
		return e.doInstall(w)
	case OpStart:
		return e.doStart(w)
	case OpStop:
		return e.doStop(w, false)
	case OpRestart:
		return e.doRestart(w)
	case OpSuspend:
		return e.doSuspend(w)
	case OpUnsuspend:
		return e.doUnsuspend(w)
	case OpTransfer:
		return e.doTransfer(w)
	}
	return catalysterr.New(catalysterr.InvalidState, "unrecognized command "+string(op))
}

// checkSuspension enforces spec section 4.3's suspension gating for every
// command except unsuspend itself.
func (e *Engine) checkSuspension(op Op, w *types.Workload) error {
	if w.Status != types.StatusSuspended || op == OpUnsuspend {
		return nil
	}
	if !e.cfg.SuspensionEnforced {
		return nil
	}
	return catalysterr.New(catalysterr.Locked, "workload is suspended")
}

func (e *Engine) doInstall(w *types.Workload) error {
	return e.installOrStart(w, types.StatusInstalling, gateway.FrameInstallServer)
}

func (e *Engine) doStart(w *types.Workload) error {
	return e.installOrStart(w, types.StatusStarting, gateway.FrameStartServer)
}

// installOrStart composes the environment and attempts the send before
// persisting the state transition, so a NodeUnavailable/NodeBackpressured
// gateway error leaves the workload in its prior, accurate state rather
// than a dangling "starting"/"installing" nothing is actually doing. The
// composed environment is only ever attached to the outbound frame; it is
// never written back onto w.Environment, so storage keeps the caller's
// original environment rather than a snapshot of computed keys.
func (e *Engine) installOrStart(w *types.Workload, target types.Status, frameType gateway.FrameType) error {
	tmpl, err := e.store.GetTemplate(w.TemplateID)
	if err != nil {
		return err
	}
	env := ComposeEnvironment(tmpl, w, e.cfg)

	cmd, err := buildCommandFrame(frameType, tmpl, w, env)
	if err != nil {
		return err
	}
	if err := e.gateway.Send(w.NodeID, cmd); err != nil {
		return err
	}

	w.Status = target
	return e.store.UpdateWorkload(w)
}

func (e *Engine) doStop(w *types.Workload, restarting bool) error {
	if err := e.sendLifecycleCommand(gateway.FrameStopServer, w); err != nil {
		return err
	}
	if restarting {
		e.actorFor(w.ID).pendingRestart = true
	}
	w.Status = types.StatusStopping
	return e.store.UpdateWorkload(w)
}

func (e *Engine) doRestart(w *types.Workload) error {
	return e.doStop(w, true)
}

func (e *Engine) doSuspend(w *types.Workload) error {
	if w.Status == types.StatusRunning || w.Status == types.StatusStarting {
		// Best-effort stop; failure to reach the agent doesn't block
		// suspension, it only means the process may still be running
		// remotely when control returns here.
		_ = e.sendLifecycleCommand(gateway.FrameStopServer, w)
	}
	w.Status = types.StatusSuspended
	w.Suspension = &types.SuspensionMeta{Timestamp: time.Now()}
	return e.store.UpdateWorkload(w)
}

// sendLifecycleCommand fetches w's template and dispatches frameType
// carrying the full command payload spec section 4.1 requires of every
// command: serverId, serverUuid, template, environment, allocations,
// primaryPort, portBindings, networkMode.
func (e *Engine) sendLifecycleCommand(frameType gateway.FrameType, w *types.Workload) error {
	tmpl, err := e.store.GetTemplate(w.TemplateID)
	if err != nil {
		return err
	}
	cmd, err := buildCommandFrame(frameType, tmpl, w, w.Environment)
	if err != nil {
		return err
	}
	return e.gateway.Send(w.NodeID, cmd)
}

func (e *Engine) doUnsuspend(w *types.Workload) error {
	w.Status = types.StatusStopped
	w.Suspension = nil
	return e.store.UpdateWorkload(w)
}

func (e *Engine) doTransfer(w *types.Workload) error {
	w.Status = types.StatusTransferring
	return e.store.UpdateWorkload(w)
}

func (e *Engine) resetCrashCount(w *types.Workload) error {
	w.CrashCount = 0
	w.LastCrashAt = time.Time{}
	return e.store.UpdateWorkload(w)
}

// reduceEvent applies an inbound status_update, run only from the owning
// actor's goroutine.
func (e *Engine) reduceEvent(ev *events.Event, w *types.Workload, a *actor) error {
	newStatus := ev.Metadata["newStatus"]

	switch {
	case w.Status == types.StatusStarting && newStatus == string(types.StatusRunning):
		w.Status = types.StatusRunning
		w.ContainerID = ev.Metadata["containerId"]

	case (w.Status == types.StatusStarting || w.Status == types.StatusRunning) && newStatus == string(types.StatusCrashed):
		return e.handleCrash(w)

	case w.Status == types.StatusStopping && newStatus == string(types.StatusStopped):
		w.Status = types.StatusStopped
		if a.pendingRestart {
			a.pendingRestart = false
			if err := e.store.UpdateWorkload(w); err != nil {
				return err
			}
			return e.doStart(w)
		}

	default:
		return nil
	}

	return e.store.UpdateWorkload(w)
}

func (e *Engine) handleCrash(w *types.Workload) error {
	w.Status = types.StatusCrashed
	w.CrashCount++
	w.LastCrashAt = time.Now()
	metrics.WorkloadCrashesTotal.Inc()

	if err := e.store.UpdateWorkload(w); err != nil {
		return err
	}

	switch w.RestartPolicy {
	case types.RestartNever:
		return nil
	case types.RestartOnFailure, types.RestartAlways:
		if w.MaxCrashCount > 0 && w.CrashCount > w.MaxCrashCount {
			e.logSystem(w.ID, "crash limit reached; manual reset required")
			return nil
		}
		metrics.WorkloadAutoRestartsTotal.Inc()
		return e.doStart(w)
	}
	return nil
}

// RollbackTransfer moves a workload back to stopped after a failed
// transfer, per spec section 4.4's "transferring -> stopped on rollback".
// Called by the transfer coordinator, not reachable as a Dispatch op.
func (e *Engine) RollbackTransfer(workloadID string) error {
	resultCh := make(chan error, 1)
	e.actorFor(workloadID).submitFunc(func(w *types.Workload) error {
		w.Status = types.StatusStopped
		return e.store.UpdateWorkload(w)
	}, resultCh)
	return <-resultCh
}

// CompleteTransfer performs spec section 4.5 step 6's atomic ownership
// switch: nodeId moves to the target, the new primary IP (already allocated
// against the target's pool by the caller) replaces the old one and its
// environment override, and container identity is cleared since nothing is
// running there yet. newPrimaryIP is empty for non-IPAM network modes.
func (e *Engine) CompleteTransfer(workloadID, targetNodeID, newPrimaryIP string) error {
	resultCh := make(chan error, 1)
	e.actorFor(workloadID).submitFunc(func(w *types.Workload) error {
		w.NodeID = targetNodeID
		w.PrimaryIP = newPrimaryIP
		w.ContainerID = ""
		w.ContainerName = ""
		if newPrimaryIP != "" {
			if w.Environment == nil {
				w.Environment = make(map[string]string)
			}
			w.Environment["CATALYST_NETWORK_IP"] = newPrimaryIP
		}
		w.Status = types.StatusStopped
		return e.store.UpdateWorkload(w)
	}, resultCh)
	return <-resultCh
}

func (e *Engine) logSystem(workloadID, text string) {
	_ = e.store.AppendWorkloadLog(&types.WorkloadLog{
		ID:         uuid.New().String(),
		WorkloadID: workloadID,
		Stream:     types.StreamSystem,
		Text:       text,
		Timestamp:  time.Now(),
	})
}
