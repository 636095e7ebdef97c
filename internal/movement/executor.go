// Package movement implements the Movement Executor: it drives a single
// movement's instruction build, Phase Runner invocation, rule evaluation,
// and report-file discovery, per SPEC_FULL.md §4.6. It implements
// engine.MovementRunner directly so the Piece Engine stays agnostic to
// whether a movement is a plain movement or a parallel container (that
// fan-out is handled by internal/parallelrun, which wraps an Executor for
// each sub-movement).
package movement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/phase"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
	"github.com/cklxx/takt/internal/tmpl"
)

// Executor runs a single movement against a resolved piece.
type Executor struct {
	Piece     *piece.Piece
	Phase     *phase.Runner
	Evaluator *ruleeval.Evaluator

	Task        string
	Cwd         string
	ReportDir   string
	Interactive bool

	OnStream     agentclient.StreamCallback
	OnPermission func(agentclient.PermissionRequest) bool
}

// New constructs an Executor for one piece run.
func New(p *piece.Piece, runner *phase.Runner, evaluator *ruleeval.Evaluator, task, cwd, reportDir string) *Executor {
	return &Executor{Piece: p, Phase: runner, Evaluator: evaluator, Task: task, Cwd: cwd, ReportDir: reportDir}
}

// RunMovement satisfies engine.MovementRunner.
func (ex *Executor) RunMovement(ctx context.Context, st *engine.State, m piece.Movement) (engine.MovementResult, error) {
	if m.IsParallelContainer() {
		return engine.MovementResult{}, fmt.Errorf("movement %q is a parallel container; route it through the Parallel Runner instead", m.Name)
	}

	sessionID := st.AgentSessions[m.Name]
	if m.Session == piece.SessionRefresh {
		sessionID = ""
	}

	instruction := ex.renderInstruction(st, m)
	systemPrompt := ex.renderSystemPrompt(m)

	result := ex.Phase.Run(ctx, phase.Input{
		Movement:     m,
		SystemPrompt: systemPrompt,
		Instruction:  instruction,
		SessionID:    sessionID,
		Cwd:          ex.Cwd,
		OnStream:     ex.OnStream,
		OnPermission: ex.OnPermission,
	})
	if result.Err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: %w", m.Name, result.Err)
	}

	mr := engine.MovementResult{
		Status:    string(result.Status),
		Content:   result.Phase1Content,
		SessionID: result.SessionID,
	}
	if result.Status != agentclient.StatusDone {
		return mr, nil
	}

	match, ok, err := ex.Evaluator.Evaluate(ctx, m.Rules, ruleeval.EvalInput{
		PieceName:     ex.Piece.Name,
		MovementName:  m.Name,
		Phase1Content: result.Phase1Content,
		Phase3Content: result.Phase3Content,
	})
	if err != nil {
		return engine.MovementResult{}, fmt.Errorf("movement %q: evaluate rules: %w", m.Name, err)
	}
	if !ok {
		mr.MatchedRuleIndex = -1
		return mr, nil
	}
	mr.MatchedRuleIndex = match.Index
	mr.MatchedRuleMethod = match.Method

	mr.ReportFiles = ex.scanReports(m)
	return mr, nil
}

func (ex *Executor) renderInstruction(st *engine.State, m piece.Movement) string {
	var previousResponse string
	if m.PassPreviousResponse {
		previousResponse = st.LastOutput
	}
	vars := tmpl.Vars{
		Task:              ex.Task,
		Iteration:         st.Iteration,
		MaxMovements:      ex.Piece.MaxMovements,
		MovementIteration: st.MovementIteration[m.Name],
		PreviousResponse:  previousResponse,
		UserInputs:        st.UserInputs,
		ReportDir:         ex.ReportDir,
		Cwd:               ex.Cwd,
	}
	return tmpl.Render(m.InstructionTemplate, vars)
}

func (ex *Executor) renderSystemPrompt(m piece.Movement) string {
	var parts []string
	if persona, ok := ex.Piece.Personas[m.Persona]; ok {
		parts = append(parts, persona)
	} else {
		parts = append(parts, m.Persona)
	}
	if m.Policy != "" {
		if policy, ok := ex.Piece.Policies[m.Policy]; ok {
			parts = append(parts, policy)
		}
	}
	if m.Knowledge != "" {
		if knowledge, ok := ex.Piece.Knowledge[m.Knowledge]; ok {
			parts = append(parts, knowledge)
		}
	}
	return strings.Join(parts, "\n\n")
}

// scanReports checks the run's report directory for each output contract's
// target file and returns those that exist.
func (ex *Executor) scanReports(m piece.Movement) []engine.ReportFile {
	var out []engine.ReportFile
	for _, c := range m.OutputContracts {
		if c.TargetFile == "" || ex.ReportDir == "" {
			continue
		}
		path := filepath.Join(ex.ReportDir, c.TargetFile)
		if _, err := os.Stat(path); err == nil {
			out = append(out, engine.ReportFile{Path: path, Name: c.TargetFile})
		}
	}
	return out
}
