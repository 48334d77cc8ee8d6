package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/executor"
)

// Phase is one node of the scan graph. Agent is empty for phases that do
// not record an AgentRun (keyword derivation). A phase starts once every
// scheduled dependency has settled, whatever the dependency's outcome.
type Phase struct {
	Name      string
	Agent     audit.AgentName
	DependsOn []string
	Modes     []audit.Mode
	// RunIf reports whether the phase should run; the reason is recorded
	// on the skipped AgentRun when it should not.
	RunIf func(*State) (bool, string)
	// Run does the work. A returned error means the run could not be
	// recorded and fails the scan; agent failures are settled on the State.
	Run func(context.Context, *State) error
}

func (p Phase) scheduledFor(mode audit.Mode) bool {
	return len(p.Modes) == 0 || slices.Contains(p.Modes, mode)
}

// Scheduler runs a phase graph for one scan.
type Scheduler struct {
	exec   *executor.Executor
	tracer trace.Tracer
	logger *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(exec *executor.Executor, tracer trace.Tracer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{exec: exec, tracer: tracer, logger: logger}
}

// Scheduled filters phases down to those mode schedules.
func Scheduled(phases []Phase, mode audit.Mode) []Phase {
	out := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if p.scheduledFor(mode) {
			out = append(out, p)
		}
	}
	return out
}

// Execute runs every phase scheduled for the state's mode. Independent phases
// run concurrently and a failed phase never cancels its siblings. The returned
// error is the first infrastructure failure, after which no new phase starts.
func (s *Scheduler) Execute(ctx context.Context, phases []Phase, st *State) error {
	scheduled := Scheduled(phases, st.Mode)
	done := make(map[string]chan struct{}, len(scheduled))
	for _, p := range scheduled {
		done[p.Name] = make(chan struct{})
	}
	if err := checkAcyclic(scheduled); err != nil {
		return err
	}

	var broken atomic.Bool
	var g errgroup.Group
	for _, p := range scheduled {
		g.Go(func() error {
			defer close(done[p.Name])
			for _, dep := range p.DependsOn {
				ch, ok := done[dep]
				if !ok {
					continue
				}
				<-ch
			}
			if broken.Load() {
				return nil
			}
			if err := s.runPhase(ctx, p, st); err != nil {
				broken.Store(true)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// checkAcyclic rejects a graph in which some phase could never start.
// Dependencies outside the scheduled set are ignored, as Execute does.
func checkAcyclic(scheduled []Phase) error {
	pending := make(map[string]int, len(scheduled))
	for _, p := range scheduled {
		pending[p.Name] = 0
	}
	dependents := make(map[string][]string, len(scheduled))
	for _, p := range scheduled {
		for _, dep := range p.DependsOn {
			if _, ok := pending[dep]; !ok {
				continue
			}
			pending[p.Name]++
			dependents[dep] = append(dependents[dep], p.Name)
		}
	}

	ready := make([]string, 0, len(scheduled))
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		name := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		delete(pending, name)
		for _, d := range dependents[name] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(pending) == 0 {
		return nil
	}
	stuck := slices.Sorted(maps.Keys(pending))
	return fmt.Errorf("phase graph has a cycle through %s", strings.Join(stuck, ", "))
}

func (s *Scheduler) runPhase(ctx context.Context, p Phase, st *State) (err error) {
	ctx, span := s.tracer.Start(ctx, "phase."+p.Name, trace.WithAttributes(
		attribute.String("scan.id", st.ScanID),
		attribute.String("scan.mode", string(st.Mode)),
	))
	defer span.End()
	logger := s.logger.With(zap.String("scan_id", st.ScanID), zap.String("phase", p.Name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("phase %s panicked: %v", p.Name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("phase aborted", zap.Error(err))
		}
	}()

	if p.RunIf != nil {
		if ok, reason := p.RunIf(st); !ok {
			span.SetAttributes(attribute.String("phase.skip_reason", reason))
			if p.Agent == "" {
				logger.Debug("phase skipped", zap.String("reason", reason))
				return nil
			}
			if _, err := s.exec.Skip(ctx, executor.AgentContext{ScanID: st.ScanID, Agent: p.Agent, Mode: st.Mode}, reason); err != nil {
				return err
			}
			st.settle(p.Agent, audit.AgentStatusSkipped, reason)
			return nil
		}
	}

	logger.Debug("phase started")
	if err := p.Run(ctx, st); err != nil {
		return err
	}
	if p.Agent != "" {
		if state, ok := st.Agents()[p.Agent]; ok {
			span.SetAttributes(attribute.String("agent.status", string(state.Status)))
		}
	}
	return nil
}

// agentPhase adapts one executor-wrapped unit of work into a phase runner.
// publish receives the value only when the agent completed.
func agentPhase[T any](
	exec *executor.Executor,
	agent audit.AgentName,
	work func(context.Context, *State) (T, error),
	publish func(*State, T),
) func(context.Context, *State) error {
	return func(ctx context.Context, st *State) error {
		out, err := executor.Run(ctx, exec, executor.AgentContext{ScanID: st.ScanID, Agent: agent, Mode: st.Mode},
			func(ctx context.Context) (T, error) { return work(ctx, st) })
		if err != nil {
			return err
		}
		if !out.OK {
			reason := ""
			if out.Err != nil {
				reason = out.Err.Error()
			}
			st.settle(agent, audit.AgentStatusFailed, reason)
			return nil
		}
		publish(st, out.Value)
		st.settle(agent, audit.AgentStatusCompleted, "")
		return nil
	}
}
