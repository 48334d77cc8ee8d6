// Package executor runs one agent unit of work and records its AgentRun row.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// Summarizer is implemented by agent outputs that contribute a result summary
// to their AgentRun row.
type Summarizer interface {
	ResultSummary() map[string]any
}

// AgentContext identifies the agent being executed.
type AgentContext struct {
	ScanID string
	Agent  audit.AgentName
	Mode   audit.Mode
}

// Outcome is what an agent produced. OK is false when the work failed or was
// skipped; Err then carries the cause.
type Outcome[T any] struct {
	RunID    string
	Value    T
	OK       bool
	Skipped  bool
	Err      error
	Duration time.Duration
}

// Executor records agent runs in an AgentRunStore.
type Executor struct {
	store  audit.AgentRunStore
	clock  audit.Clock
	ids    audit.IDGenerator
	logger *zap.Logger
}

// New constructs an Executor.
func New(store audit.AgentRunStore, clock audit.Clock, ids audit.IDGenerator, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, clock: clock, ids: ids, logger: logger.Named("executor")}
}

// Run records a pending row, moves it to running, invokes work and writes
// exactly one terminal row.
// Failures and panics inside work come back in the Outcome. The returned error
// is non-nil only when the store rejected a write.
func Run[T any](ctx context.Context, e *Executor, ac AgentContext, work func(context.Context) (T, error)) (Outcome[T], error) {
	logger := e.logger.With(zap.String("scan_id", ac.ScanID), zap.String("agent", string(ac.Agent)))

	runID, err := e.ids.NewID()
	if err != nil {
		return Outcome[T]{Err: err}, fmt.Errorf("generate agent run id: %w", err)
	}
	if err := e.store.InsertAgentRun(ctx, audit.AgentRun{
		ID:     runID,
		ScanID: ac.ScanID,
		Agent:  ac.Agent,
		Mode:   ac.Mode,
		Status: audit.AgentStatusPending,
	}); err != nil {
		return Outcome[T]{RunID: runID, Err: err}, fmt.Errorf("record %s run: %w", ac.Agent, err)
	}
	started := e.clock.Now()
	if err := e.store.StartAgentRun(ctx, runID, started); err != nil {
		return Outcome[T]{RunID: runID, Err: err}, fmt.Errorf("start %s run: %w", ac.Agent, err)
	}

	value, workErr := invoke(ctx, work)
	finished := e.clock.Now()
	out := Outcome[T]{RunID: runID, Value: value, OK: workErr == nil, Err: workErr, Duration: finished.Sub(started)}

	completion := audit.AgentCompletion{
		Status:      audit.AgentStatusCompleted,
		CompletedAt: finished,
		DurationMs:  out.Duration.Milliseconds(),
	}
	if workErr != nil {
		completion.Status = audit.AgentStatusFailed
		completion.ErrorMessage = audit.TruncateRunes(workErr.Error(), audit.MaxErrorRunes)
		logger.Warn("agent failed", zap.Error(workErr), zap.Duration("duration", out.Duration))
	} else {
		if s, ok := any(value).(Summarizer); ok {
			completion.ResultSummary = s.ResultSummary()
		}
		logger.Info("agent completed", zap.Duration("duration", out.Duration))
	}

	// The terminal row must land even when work ran out its deadline.
	if err := e.store.CompleteAgentRun(context.WithoutCancel(ctx), runID, completion); err != nil {
		return out, fmt.Errorf("complete %s run: %w", ac.Agent, err)
	}
	metrics.ObserveAgentRun(string(ac.Agent), string(completion.Status), out.Duration)
	return out, nil
}

// Skip records a skipped agent with the reason it never ran.
func (e *Executor) Skip(ctx context.Context, ac AgentContext, reason string) (Outcome[struct{}], error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Outcome[struct{}]{Skipped: true}, fmt.Errorf("generate agent run id: %w", err)
	}
	now := e.clock.Now()
	err = e.store.InsertAgentRun(ctx, audit.AgentRun{
		ID:           runID,
		ScanID:       ac.ScanID,
		Agent:        ac.Agent,
		Mode:         ac.Mode,
		Status:       audit.AgentStatusSkipped,
		CompletedAt:  &now,
		ErrorMessage: audit.TruncateRunes(reason, audit.MaxErrorRunes),
	})
	out := Outcome[struct{}]{RunID: runID, Skipped: true, Err: fmt.Errorf("skipped: %s", reason)}
	if err != nil {
		return out, fmt.Errorf("record skipped %s: %w", ac.Agent, err)
	}
	e.logger.Info("agent skipped",
		zap.String("scan_id", ac.ScanID),
		zap.String("agent", string(ac.Agent)),
		zap.String("reason", reason),
	)
	metrics.ObserveAgentRun(string(ac.Agent), string(audit.AgentStatusSkipped), 0)
	return out, nil
}

func invoke[T any](ctx context.Context, work func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return work(ctx)
}
