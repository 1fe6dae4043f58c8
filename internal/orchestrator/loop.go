package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// phaseOutcome tells the loop what to do after a phase.
type phaseOutcome int

const (
	outcomeContinue phaseOutcome = iota
	outcomeSuspend
	outcomeAbort
)

// spawn starts the phase loop for r at r.next on its own goroutine. The run
// context keeps ctx's values but not its cancellation, so an HTTP request
// ending does not stop the session.
func (o *Orchestrator) spawn(ctx context.Context, r *run) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runLoop(runCtx, r)
	}()
}

// runLoop executes phases from r.next until the workflow ends, a phase
// aborts the session, or an approval gate suspends it. It is the only place
// a panic in the loop is recovered, and it converts every abort into a
// terminal transition.
func (o *Orchestrator) runLoop(ctx context.Context, r *run) {
	r.mu.Lock()
	sessionID := r.session.ID
	start := r.next
	r.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("session.start_phase", start),
		),
	)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("phase loop panicked: %v", rec)
			span.RecordError(err)
			o.finish(ctx, r, &Error{Kind: KindSetup, SessionID: sessionID, Err: err})
		}
	}()

	for {
		r.mu.Lock()
		i := r.next
		total := len(r.workflow.Phases)
		done := r.session.Status.Terminal()
		r.mu.Unlock()

		if done {
			return
		}
		if i >= total {
			o.finish(ctx, r, nil)
			return
		}
		if ctx.Err() != nil {
			o.finish(ctx, r, &Error{Kind: KindCancelled, SessionID: sessionID, Err: ctx.Err()})
			return
		}

		outcome, err := o.runPhase(ctx, r, i)
		switch outcome {
		case outcomeSuspend:
			gate, cancelled := o.park(ctx, r)
			switch {
			case cancelled:
				o.finish(ctx, r, &Error{Kind: KindCancelled, SessionID: sessionID, Err: ctx.Err()})
				return
			case gate == nil:
				span.SetAttributes(attribute.Bool("session.suspended", true))
				return
			case !gate.decision.Approved:
				o.finish(ctx, r, rejection(sessionID, gate.phaseID, gate.decision))
				return
			}
		case outcomeAbort:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.finish(ctx, r, err)
			return
		}
	}
}

// runPhase executes phase i and records its result.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, i int) (phaseOutcome, error) {
	r.mu.Lock()
	phase := &r.workflow.Phases[i]
	started := o.now()
	phase.Status = execution.PhaseRunning
	phase.StartedAt = &started
	r.session.CurrentPhase = i
	r.next = i + 1
	r.updatedAt = started
	sessionID := r.session.ID
	mode := r.session.Mode
	phaseID, phaseName, agentName := phase.ID, phase.Name, phase.Agent
	critical, needsApproval := phase.Critical, phase.RequiresApproval
	input := r.phaseInput(i)
	plan := agent.PlanForPhase(*phase, input)
	ec := r.ec
	r.mu.Unlock()

	o.emit(ctx, events.Event{
		Type:      events.EventPhaseStarted,
		SessionID: sessionID,
		Timestamp: started,
		PhaseID:   phaseID,
		Phase:     phaseName,
		Agent:     agentName,
		Message:   fmt.Sprintf("Starting %s", phaseName),
	})

	executor, err := o.agents.Resolve(agentName, o.agentDeps)
	if err != nil {
		o.failPhase(ctx, r, i, err)
		return outcomeAbort, &Error{Kind: KindConfiguration, SessionID: sessionID, Phase: phaseID, Err: err}
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.phase",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("phase.id", phaseID),
			attribute.String("phase.agent", agentName),
			attribute.Bool("phase.critical", critical),
		),
	)
	result, err := executor.Execute(ctx, plan, ec)
	if err == nil && result == nil {
		result = &agent.Result{}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		o.failPhase(ctx, r, i, err)
		switch {
		case ctx.Err() != nil:
			return outcomeAbort, &Error{Kind: KindCancelled, SessionID: sessionID, Phase: phaseID, Err: err}
		case critical:
			return outcomeAbort, &Error{Kind: KindCriticalPhase, SessionID: sessionID, Phase: phaseID, Err: err}
		default:
			o.logger.Warn(ctx, "phase failed, continuing", zap.String("phase", phaseID), zap.Error(err))
			return outcomeContinue, nil
		}
	}

	suspend := needsApproval && mode == execution.ModeConversational
	o.completePhase(ctx, r, i, result, suspend)
	if suspend {
		return outcomeSuspend, nil
	}
	return outcomeContinue, nil
}

func (o *Orchestrator) completePhase(ctx context.Context, r *run, i int, result *agent.Result, suspend bool) {
	ended := o.now()

	r.mu.Lock()
	phase := &r.workflow.Phases[i]
	phase.Status = execution.PhaseCompleted
	phase.EndedAt = &ended
	phase.Duration = ended.Sub(*phase.StartedAt)
	output := result.Output
	if output == nil {
		output = map[string]any{}
	}
	phase.Output = output
	r.outputs[phase.ID] = output
	r.completed = append(r.completed, phase.ID)
	r.recomputeProgress()
	r.updatedAt = ended
	session := r.session
	ec := r.ec
	phaseID, phaseName, agentName, duration := phase.ID, phase.Name, phase.Agent, phase.Duration
	input := phase.Input
	r.mu.Unlock()

	phaseDuration.WithLabelValues(agentName, string(execution.PhaseCompleted)).Observe(duration.Seconds())

	o.emit(ctx, events.Event{
		Type:      events.EventPhaseCompleted,
		SessionID: session.ID,
		Timestamp: ended,
		PhaseID:   phaseID,
		Phase:     phaseName,
		Agent:     agentName,
		Message:   result.Summary,
		Data: map[string]any{
			"output":      output,
			"artifacts":   result.Artifacts,
			"progress":    session.Progress,
			"duration_ms": duration.Milliseconds(),
		},
	})

	if o.loader != nil {
		entry := execution.LearningEntry{
			UserID:    session.UserID,
			SessionID: session.ID,
			PhaseID:   phaseID,
			TaskType:  ec.Intent,
			Input:     input,
			Decision:  output,
			CreatedAt: ended,
		}
		if err := o.loader.SaveLearningData(context.WithoutCancel(ctx), entry); err != nil {
			o.logger.Warn(ctx, "saving learning data failed", zap.String("phase", phaseID), zap.Error(err))
		}
	}

	if suspend {
		session.AwaitingPhase = phaseID
	}
	o.persistUpdate(ctx, &session)

	if suspend {
		// The gate opens only after the learning row and the parked
		// session row are stored.
		approvalsPending.Inc()
		r.mu.Lock()
		r.session.AwaitingPhase = phaseID
		r.mu.Unlock()

		o.emit(ctx, events.Event{
			Type:      events.EventApprovalRequired,
			SessionID: session.ID,
			Timestamp: o.now(),
			PhaseID:   phaseID,
			Phase:     phaseName,
			Agent:     agentName,
			Message:   fmt.Sprintf("%s needs approval before the session continues", phaseName),
			Data:      map[string]any{"output": output},
		})
		o.logger.Info(ctx, "session awaiting approval", zap.String("phase", phaseID))
	}
}

// park ends the current loop segment at an approval gate. When a decision
// already arrived during the announcement, park hands it back and the
// segment keeps going; cancelled reports that Cancel got there first.
func (o *Orchestrator) park(ctx context.Context, r *run) (gate *resolvedGate, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, true
	}
	gate, r.resolved = r.resolved, nil
	if gate == nil {
		r.running = false
	}
	return gate, false
}

func (o *Orchestrator) failPhase(ctx context.Context, r *run, i int, cause error) {
	ended := o.now()

	r.mu.Lock()
	phase := &r.workflow.Phases[i]
	phase.Status = execution.PhaseFailed
	phase.EndedAt = &ended
	if phase.StartedAt != nil {
		phase.Duration = ended.Sub(*phase.StartedAt)
	}
	phase.Error = cause.Error()
	r.failed = append(r.failed, phase.ID)
	r.recomputeProgress()
	r.updatedAt = ended
	session := r.session
	phaseID, phaseName, agentName, duration, critical := phase.ID, phase.Name, phase.Agent, phase.Duration, phase.Critical
	r.mu.Unlock()

	phaseDuration.WithLabelValues(agentName, string(execution.PhaseFailed)).Observe(duration.Seconds())

	o.emit(ctx, events.Event{
		Type:      events.EventPhaseFailed,
		SessionID: session.ID,
		Timestamp: ended,
		PhaseID:   phaseID,
		Phase:     phaseName,
		Agent:     agentName,
		Message:   fmt.Sprintf("%s failed", phaseName),
		Error:     cause.Error(),
		Data:      map[string]any{"critical": critical},
	})
	o.persistUpdate(ctx, &session)
}

// finish moves r to its terminal state exactly once. A nil cause completes
// the session; anything else fails it.
func (o *Orchestrator) finish(ctx context.Context, r *run, cause error) {
	r.finishOnce.Do(func() {
		ended := o.now()

		r.mu.Lock()
		if r.session.AwaitingPhase != "" {
			approvalsPending.Dec()
		}
		r.session.AwaitingPhase = ""
		r.session.EndedAt = &ended
		r.session.Duration = ended.Sub(r.session.StartedAt)
		r.recomputeProgress()
		if cause == nil {
			r.session.Status = execution.SessionCompleted
		} else {
			r.session.Status = execution.SessionFailed
		}
		r.running = false
		r.updatedAt = ended
		cancel := r.cancel
		session := r.session
		summary := map[string]any{
			"completed_phases": len(r.completed),
			"failed_phases":    len(r.failed),
			"total_phases":     len(r.workflow.Phases),
			"progress":         r.session.Progress,
			"duration_ms":      session.Duration.Milliseconds(),
		}
		r.mu.Unlock()

		o.persistUpdate(ctx, &session)

		event := events.Event{
			Type:      events.EventSessionCompleted,
			SessionID: session.ID,
			Timestamp: ended,
			Message:   "Session completed",
			Data:      summary,
		}
		if cause != nil {
			event.Type = events.EventSessionFailed
			event.Message = "Session failed"
			event.Error = cause.Error()
			summary["reason"] = string(KindOf(cause))
		}
		o.emit(ctx, event)

		o.mu.Lock()
		delete(o.active, session.ID)
		o.mu.Unlock()
		activeSessions.Dec()
		sessionsFinished.WithLabelValues(string(session.Status)).Inc()

		if cancel != nil {
			cancel()
		}

		fields := []zap.Field{
			zap.String("status", string(session.Status)),
			zap.Int("completed_phases", session.CompletedPhases),
			zap.Int("failed_phases", session.FailedPhases),
			zap.Duration("duration", session.Duration),
		}
		if cause != nil {
			o.logger.Warn(ctx, "session failed", append(fields, zap.Error(cause))...)
			return
		}
		o.logger.Info(ctx, "session completed", fields...)
	})
}
