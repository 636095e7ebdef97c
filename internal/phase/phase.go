// Package phase drives the three-phase agent protocol (execute, report,
// judge) against a single conversational session, per SPEC_FULL.md §4.5.
// It is grounded on the teacher's multi-call session-continuation pattern
// (persisting and resuming a sessionId across successive streamed calls).
package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/piece"
)

// Result is the Phase Runner's combined output across the phases it ran
// for one movement invocation.
type Result struct {
	Phase1Content string
	Phase2Content string
	Phase3Content string
	SessionID     string
	Status        agentclient.Status
	Err           error
}

// Input bundles everything the Phase Runner needs to drive one movement's
// session independent of engine/movement-executor bookkeeping.
type Input struct {
	Movement     piece.Movement
	SystemPrompt string // rendered persona + policy + knowledge
	Instruction  string // rendered instruction_template
	SessionID    string // empty to start a fresh session
	Cwd          string
	OnStream     agentclient.StreamCallback
	OnPermission func(agentclient.PermissionRequest) bool
}

// Runner drives Phase 1/2/3 calls against an agentclient.Client.
type Runner struct {
	Client agentclient.Client
}

// New constructs a Phase Runner over the given client.
func New(client agentclient.Client) *Runner {
	return &Runner{Client: client}
}

// Run executes Phase 1, conditionally Phase 2 (when the movement declares
// output contracts), and conditionally Phase 3 (when a rule depends on a
// tag), returning combined content and the final session id.
func (r *Runner) Run(ctx context.Context, in Input) Result {
	sessionID := in.SessionID

	phase1Tools := in.Movement.AllowedTools
	if len(in.Movement.OutputContracts) > 0 {
		phase1Tools = withoutWrite(phase1Tools)
	}

	resp, err := r.call(ctx, in, agentclient.CallOptions{
		Cwd:          in.Cwd,
		SessionID:    sessionID,
		AllowedTools: phase1Tools,
		MCPServers:   in.Movement.MCPServers,
		Model:        in.Movement.Model,
		OnStream:     in.OnStream,
		OnPermissionRequest: in.OnPermission,
	})
	if err != nil {
		return Result{Status: agentclient.StatusError, Err: err}
	}
	if resp.SessionID != "" {
		sessionID = resp.SessionID
	}
	result := Result{Phase1Content: resp.Content, SessionID: sessionID, Status: resp.Status}
	if resp.Status != agentclient.StatusDone {
		return result
	}

	if len(in.Movement.OutputContracts) > 0 {
		reportInstruction := buildReportInstruction(in.Movement.OutputContracts, in.Instruction)
		resp2, err := r.call(ctx, in, agentclient.CallOptions{
			Cwd:          in.Cwd,
			SessionID:    sessionID,
			AllowedTools: []string{"Write"},
			MaxTurns:     3,
			OnStream:     in.OnStream,
			OnPermissionRequest: in.OnPermission,
		}, withInstruction(reportInstruction))
		if err != nil {
			result.Err = err
			result.Status = agentclient.StatusError
			return result
		}
		if resp2.SessionID != "" {
			sessionID = resp2.SessionID
		}
		result.Phase2Content = resp2.Content
		result.SessionID = sessionID
		if resp2.Status != agentclient.StatusDone {
			result.Status = resp2.Status
			return result
		}
	}

	if in.Movement.NeedsJudgePhase() {
		resp3, err := r.call(ctx, in, agentclient.CallOptions{
			Cwd:          in.Cwd,
			SessionID:    sessionID,
			AllowedTools: nil,
			MaxTurns:     3,
			OnStream:     in.OnStream,
			OnPermissionRequest: in.OnPermission,
		}, withInstruction(judgeInstruction))
		if err != nil {
			result.Err = err
			result.Status = agentclient.StatusError
			return result
		}
		if resp3.SessionID != "" {
			sessionID = resp3.SessionID
		}
		result.Phase3Content = resp3.Content
		result.SessionID = sessionID
		result.Status = resp3.Status
		return result
	}

	return result
}

// call wraps a single agentclient.Client.Call, translating context
// cancellation into an interrupted status rather than a bare error.
func (r *Runner) call(ctx context.Context, in Input, opts agentclient.CallOptions, overrides ...func(*callArgs)) (agentclient.Response, error) {
	args := callArgs{prompt: in.Instruction}
	for _, o := range overrides {
		o(&args)
	}

	resp, err := agentclient.CallWithRetry(ctx, r.Client, in.SystemPrompt, args.prompt, opts)
	if ctx.Err() != nil {
		return agentclient.Response{Status: agentclient.StatusInterrupted, SessionID: opts.SessionID}, nil
	}
	return resp, err
}

type callArgs struct{ prompt string }

func withInstruction(prompt string) func(*callArgs) {
	return func(a *callArgs) { a.prompt = prompt }
}

func withoutWrite(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if t != "Write" {
			out = append(out, t)
		}
	}
	return out
}

const judgeInstruction = "Review your previous response and emit exactly one routing tag in square brackets, e.g. [DONE]. Do not add any other text."

func buildReportInstruction(contracts []piece.OutputContract, instruction string) string {
	var b strings.Builder
	for _, c := range contracts {
		if c.Order != "" {
			b.WriteString(c.Order)
			b.WriteString("\n\n")
		}
	}
	b.WriteString(instruction)
	for _, c := range contracts {
		if c.Format != "" {
			b.WriteString("\n\n")
			b.WriteString(c.Format)
		}
		if c.TargetFile != "" {
			fmt.Fprintf(&b, "\n\nWrite the report to %s.", c.TargetFile)
		}
	}
	return b.String()
}
