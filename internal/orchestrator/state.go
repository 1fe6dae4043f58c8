package orchestrator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

// Snapshot is a point-in-time copy of an active session's run state.
type Snapshot struct {
	Session         execution.Session `json:"session"`
	Workflow        workflow.Template `json:"workflow"`
	CompletedPhases []string          `json:"completed_phases"`
	FailedPhases    []string          `json:"failed_phases"`
	Progress        int               `json:"progress"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// SessionID is shorthand for Session.ID.
func (s *Snapshot) SessionID() string {
	return s.Session.ID
}

// run is the mutable state of one active session. Fields are guarded by
// mu; the phase loop is the only writer while it runs.
type run struct {
	mu sync.Mutex

	session   execution.Session
	workflow  workflow.Template
	ec        execution.Context
	completed []string
	failed    []string
	outputs   map[string]map[string]any
	updatedAt time.Time

	// next is the index of the first phase the loop has not started.
	next    int
	running bool
	cancel  context.CancelFunc

	// resolved holds a decision that arrived while the loop was still
	// announcing the gate. The loop applies it instead of parking.
	resolved *resolvedGate

	finishOnce sync.Once
}

type resolvedGate struct {
	phaseID  string
	decision Decision
}

func newRun(session execution.Session, wf workflow.Template, ec execution.Context, now time.Time) *run {
	for i := range wf.Phases {
		wf.Phases[i].Status = execution.PhasePending
	}
	return &run{
		session:   session,
		workflow:  wf,
		ec:        ec,
		completed: []string{},
		failed:    []string{},
		outputs:   make(map[string]map[string]any),
		updatedAt: now,
	}
}

// snapshot copies the run state. Callers must hold mu.
func (r *run) snapshot() *Snapshot {
	return &Snapshot{
		Session:         r.session,
		Workflow:        r.workflow.Clone(),
		CompletedPhases: append([]string(nil), r.completed...),
		FailedPhases:    append([]string(nil), r.failed...),
		Progress:        r.session.Progress,
		UpdatedAt:       r.updatedAt,
	}
}

// recomputeProgress sets progress from the completed count. Callers must
// hold mu.
func (r *run) recomputeProgress() {
	r.session.CompletedPhases = len(r.completed)
	r.session.FailedPhases = len(r.failed)

	total := len(r.workflow.Phases)
	if total == 0 {
		r.session.Progress = 100
		return
	}
	p := int(math.Round(100 * float64(len(r.completed)) / float64(total)))
	if p > r.session.Progress {
		r.session.Progress = p
	}
}

// phaseInput builds the input handed to a phase: the template input plus
// the command and the outputs of every phase completed so far. Callers must
// hold mu.
func (r *run) phaseInput(i int) map[string]any {
	in := make(map[string]any, len(r.workflow.Phases[i].Input)+2)
	for k, v := range r.workflow.Phases[i].Input {
		in[k] = v
	}
	in["command"] = r.session.Command
	if len(r.outputs) > 0 {
		prev := make(map[string]any, len(r.outputs))
		for id, out := range r.outputs {
			prev[id] = out
		}
		in["previous"] = prev
	}
	return in
}
