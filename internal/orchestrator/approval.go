package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/logging"
)

// Decision is a human verdict on a phase awaiting approval.
type Decision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

func (d Decision) feedback() string {
	switch d.Feedback {
	case execution.FeedbackApproved, execution.FeedbackRejected, execution.FeedbackModified:
		return d.Feedback
	}
	if d.Approved {
		return execution.FeedbackApproved
	}
	return execution.FeedbackRejected
}

// Approve resolves the approval gate of a suspended session. An approved
// session resumes at the phase after the gate; a rejected one fails.
func (o *Orchestrator) Approve(ctx context.Context, sessionID string, d Decision) (*Snapshot, error) {
	r, ok := o.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	r.mu.Lock()
	phaseID := r.session.AwaitingPhase
	if phaseID == "" {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotAwaitingApproval, sessionID)
	}
	r.session.AwaitingPhase = ""
	r.updatedAt = o.now()
	// The segment that opened the gate may still be emitting
	// approval-required; it picks the decision up when it parks.
	handedOff := r.running
	if handedOff {
		r.resolved = &resolvedGate{phaseID: phaseID, decision: d}
	}
	session := r.session
	r.mu.Unlock()
	approvalsPending.Dec()

	feedback := d.feedback()
	if o.loader != nil {
		if err := o.loader.RecordFeedback(ctx, sessionID, phaseID, feedback); err != nil {
			o.logger.Warn(ctx, "recording feedback failed", zap.String("phase", phaseID), zap.Error(err))
		}
	}
	o.logger.Info(ctx, "approval received",
		zap.String("phase", phaseID),
		zap.String("feedback", feedback),
		zap.Bool("approved", d.Approved),
	)

	if handedOff {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshot(), nil
	}

	o.persistUpdate(ctx, &session)
	if !d.Approved {
		o.finish(ctx, r, rejection(sessionID, phaseID, d))
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshot(), nil
	}

	r.mu.Lock()
	snap := r.snapshot()
	r.mu.Unlock()
	o.spawn(ctx, r)
	return snap, nil
}

func rejection(sessionID, phaseID string, d Decision) *Error {
	cause := errors.New("phase rejected by reviewer")
	if d.Comment != "" {
		cause = fmt.Errorf("phase rejected by reviewer: %s", d.Comment)
	}
	return &Error{Kind: KindApprovalRejected, SessionID: sessionID, Phase: phaseID, Err: cause}
}

// Cancel stops an active session. A running session fails once its current
// phase returns, recording that phase as failed. A session parked at an
// approval gate has no phase in flight and fails immediately.
func (o *Orchestrator) Cancel(sessionID string) error {
	r, ok := o.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	r.mu.Lock()
	if r.running && r.cancel != nil {
		r.cancel()
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ctx := logging.WithSessionID(context.Background(), sessionID)
	o.finish(ctx, r, &Error{Kind: KindCancelled, SessionID: sessionID, Err: context.Canceled})
	return nil
}
