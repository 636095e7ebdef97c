// Package engine implements the Piece Engine: the single-threaded
// cooperative state machine that drives a piece's movements from its
// initial movement to a terminal COMPLETE/ABORT, per SPEC_FULL.md §4.8.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
)

// tracer is a no-op unless the process registers a global TracerProvider
// (e.g. via go.opentelemetry.io/otel/sdk/trace), matching the teacher's
// optional-exporter pattern: instrumentation never requires a collector to
// be present.
var tracer = otel.Tracer("github.com/cklxx/takt/internal/engine")

// MovementResult is what a movement (or a parallel container of
// sub-movements) produces for one iteration.
type MovementResult struct {
	Status           string // agentclient.Status value, kept as string to avoid a hard package dependency
	Content          string
	SessionID        string
	MatchedRuleIndex int
	MatchedRuleMethod ruleeval.Method
	ReportFiles      []ReportFile
	SubConditions    []string // populated by the Parallel Runner for aggregate rules
}

// ReportFile names one artifact a movement's Phase 2 call produced.
type ReportFile struct {
	Path string
	Name string
}

// MovementRunner executes a single movement (Movement Executor) or a
// parallel container (Parallel Runner); the engine is agnostic to which.
type MovementRunner interface {
	RunMovement(ctx context.Context, st *State, m piece.Movement) (MovementResult, error)
}

// UserInputCallback is invoked when a movement's response is "blocked" or
// a selected rule requires user input; it returns the user's reply or
// ok=false if the caller declines (which aborts the run).
type UserInputCallback func(ctx context.Context, prompt string) (string, bool)

// IterationLimitCallback is invoked when the iteration budget is
// exhausted; it returns the number of additional iterations granted, or 0
// to abort.
type IterationLimitCallback func(ctx context.Context, current, max int) int

// LoopJudge resolves a detected cycle to a next movement name.
type LoopJudge interface {
	JudgeLoop(ctx context.Context, monitor piece.LoopMonitor, outputs map[string]string) (next string, ok bool)
}

// Engine drives one piece run to completion.
type Engine struct {
	Piece    *piece.Piece
	Runner   MovementRunner
	Sink     EventSink
	Logger   *slog.Logger

	OnUserInput     UserInputCallback
	OnIterationLimit IterationLimitCallback
	LoopJudge        LoopJudge

	maxMovements int
	history      []string // sliding window of visited movement names, for loop detection
}

// New constructs an Engine for piece p. sink may be nil (no-op).
func New(p *piece.Piece, runner MovementRunner, sink EventSink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = func(Event) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Piece: p, Runner: runner, Sink: sink, Logger: logger, maxMovements: p.MaxMovements}
}

func (e *Engine) emit(ev Event, st *State) {
	ev.State = st.Snapshot()
	e.Sink(ev)
}

// Run executes the engine loop until the run reaches COMPLETE, ABORT, or
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*State, error) {
	ctx, span := tracer.Start(ctx, "piece.run", trace.WithAttributes(
		attribute.String("piece.name", e.Piece.Name),
	))
	defer span.End()

	st := NewState(e.Piece.Name, e.Piece.InitialMovement)
	defer func() {
		span.SetAttributes(attribute.String("piece.status", string(st.Status)))
		if st.Status == RunAborted {
			span.SetStatus(codes.Error, "aborted")
		}
	}()

	for {
		if ctx.Err() != nil {
			st.Status = RunAborted
			e.emit(Event{Kind: EventWorkflowAbort, Reason: "cancelled"}, st)
			return st, ctx.Err()
		}

		if st.Iteration >= e.maxMovements {
			e.emit(Event{Kind: EventIterationLimit, Iteration: st.Iteration}, st)
			if e.OnIterationLimit == nil {
				st.Status = RunAborted
				e.emit(Event{Kind: EventWorkflowAbort, Reason: "iteration limit reached"}, st)
				return st, fmt.Errorf("iteration limit reached at movement %q", st.CurrentMovement)
			}
			extra := e.OnIterationLimit(ctx, st.Iteration, e.maxMovements)
			if extra <= 0 {
				st.Status = RunAborted
				e.emit(Event{Kind: EventWorkflowAbort, Reason: "iteration limit reached"}, st)
				return st, fmt.Errorf("iteration limit reached at movement %q", st.CurrentMovement)
			}
			e.maxMovements += extra
		}

		if next, diverted := e.checkLoopMonitors(ctx, st); diverted {
			if next == "" {
				st.Status = RunAborted
				e.emit(Event{Kind: EventWorkflowAbort, Reason: "loop detected with no resolution"}, st)
				return st, fmt.Errorf("loop detected at movement %q", st.CurrentMovement)
			}
			st.CurrentMovement = next
		}

		movement, ok := e.Piece.Movement(st.CurrentMovement)
		if !ok {
			st.Status = RunAborted
			e.emit(Event{Kind: EventWorkflowAbort, Reason: fmt.Sprintf("unknown movement %q", st.CurrentMovement)}, st)
			return st, fmt.Errorf("unknown movement %q", st.CurrentMovement)
		}

		st.Iteration++
		st.MovementIteration[movement.Name]++
		e.history = append(e.history, movement.Name)

		e.emit(Event{Kind: EventMovementStart, Movement: movement.Name, Iteration: st.Iteration}, st)

		result, err := e.runMovementTraced(ctx, st, movement)
		if err != nil {
			st.Status = RunAborted
			e.emit(Event{Kind: EventWorkflowAbort, Movement: movement.Name, Reason: err.Error()}, st)
			return st, err
		}

		st.MovementOutputs[movement.Name] = result.Content
		st.LastOutput = result.Content
		if result.SessionID != "" {
			st.AgentSessions[movement.Name] = result.SessionID
		}

		e.emit(Event{Kind: EventMovementComplete, Movement: movement.Name, Response: &result}, st)
		for _, rf := range result.ReportFiles {
			e.emit(Event{Kind: EventMovementReport, Movement: movement.Name, ReportPath: rf.Path, ReportName: rf.Name}, st)
		}

		if result.Status == "blocked" {
			next, aborted := e.handleBlocked(ctx, st, movement, result)
			if aborted {
				return st, fmt.Errorf("movement %q blocked with no user input", movement.Name)
			}
			st.CurrentMovement = next
			continue
		}

		if result.MatchedRuleIndex < 0 || result.MatchedRuleIndex >= len(movement.Rules) {
			st.Status = RunAborted
			reason := fmt.Sprintf("no matching rule for movement %q", movement.Name)
			e.emit(Event{Kind: EventWorkflowAbort, Movement: movement.Name, Reason: reason}, st)
			return st, fmt.Errorf(reason)
		}

		rule := movement.Rules[result.MatchedRuleIndex]
		if rule.RequiresUserInput {
			next, aborted := e.handleBlocked(ctx, st, movement, result)
			if aborted {
				return st, fmt.Errorf("movement %q requires user input but none was provided", movement.Name)
			}
			st.CurrentMovement = next
			continue
		}

		switch rule.Next {
		case piece.Complete:
			st.Status = RunCompleted
			e.emit(Event{Kind: EventWorkflowComplete}, st)
			return st, nil
		case piece.Abort:
			st.Status = RunAborted
			e.emit(Event{Kind: EventWorkflowAbort, Movement: movement.Name, Reason: "rule selected ABORT"}, st)
			return st, nil
		default:
			st.CurrentMovement = rule.Next
		}
	}
}

// runMovementTraced wraps one movement execution in its own span, tagging
// the matched rule and status so a trace backend can show per-movement
// latency within the overall piece.run span.
func (e *Engine) runMovementTraced(ctx context.Context, st *State, movement piece.Movement) (MovementResult, error) {
	ctx, span := tracer.Start(ctx, "movement.run", trace.WithAttributes(
		attribute.String("movement.name", movement.Name),
		attribute.Int("movement.iteration", st.MovementIteration[movement.Name]),
	))
	defer span.End()

	result, err := e.Runner.RunMovement(ctx, st, movement)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(
		attribute.String("movement.status", result.Status),
		attribute.Int("movement.matched_rule", result.MatchedRuleIndex),
	)
	return result, nil
}

func (e *Engine) handleBlocked(ctx context.Context, st *State, movement piece.Movement, result MovementResult) (string, bool) {
	e.emit(Event{Kind: EventMovementBlocked, Movement: movement.Name, Response: &result}, st)
	if e.OnUserInput == nil {
		st.Status = RunAborted
		e.emit(Event{Kind: EventWorkflowAbort, Movement: movement.Name, Reason: "blocked with no interactive input available"}, st)
		return "", true
	}
	reply, ok := e.OnUserInput(ctx, result.Content)
	if !ok {
		st.Status = RunAborted
		e.emit(Event{Kind: EventWorkflowAbort, Movement: movement.Name, Reason: "user declined to provide input"}, st)
		return "", true
	}
	st.AppendUserInput(reply)
	return movement.Name, false
}

// checkLoopMonitors scans configured cycles against the recent movement
// history; when a cycle repeats threshold times consecutively, the
// configured judge persona picks the next movement. diverted reports
// whether a monitor fired (next=="" means no resolution -> abort).
func (e *Engine) checkLoopMonitors(ctx context.Context, st *State) (next string, diverted bool) {
	for _, monitor := range e.Piece.LoopMonitors {
		if len(monitor.Cycle) == 0 || monitor.Threshold <= 0 {
			continue
		}
		window := len(monitor.Cycle) * monitor.Threshold
		if len(e.history) < window {
			continue
		}
		recent := e.history[len(e.history)-window:]
		if !repeatsCycle(recent, monitor.Cycle, monitor.Threshold) {
			continue
		}

		e.emit(Event{Kind: EventMovementLoopDetected, Movement: st.CurrentMovement, LoopCount: monitor.Threshold}, st)
		if e.LoopJudge == nil {
			return "", true
		}
		chosen, ok := e.LoopJudge.JudgeLoop(ctx, monitor, st.MovementOutputs)
		if !ok {
			return "", true
		}
		return chosen, true
	}
	return "", false
}

func repeatsCycle(history, cycle []string, threshold int) bool {
	cycleLen := len(cycle)
	for rep := 0; rep < threshold; rep++ {
		offset := rep * cycleLen
		for i, name := range cycle {
			if history[offset+i] != name {
				return false
			}
		}
	}
	return true
}
