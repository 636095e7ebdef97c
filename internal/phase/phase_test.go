package phase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/piece"
)

func TestRunnerDrivesSinglePhaseWhenNoContractsOrJudge(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {{Status: agentclient.StatusDone, Content: "did the thing", SessionID: "s1"}},
	})
	r := New(client)

	result := r.Run(context.Background(), Input{
		Movement:     piece.Movement{Name: "implement"},
		SystemPrompt: "engineer persona",
		Instruction:  "do the thing",
	})

	require.Equal(t, agentclient.StatusDone, result.Status)
	require.Equal(t, "did the thing", result.Phase1Content)
	require.Equal(t, "s1", result.SessionID)
	require.Empty(t, result.Phase2Content)
	require.Empty(t, result.Phase3Content)
	require.Len(t, client.Calls(), 1)
}

func TestRunnerDrivesReportPhaseWhenContractsDeclared(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: "did the thing", SessionID: "s1"},
			{Status: agentclient.StatusDone, Content: "report written", SessionID: "s1"},
		},
	})
	r := New(client)

	result := r.Run(context.Background(), Input{
		Movement: piece.Movement{
			Name:            "implement",
			AllowedTools:    []string{"Write", "Bash"},
			OutputContracts: []piece.OutputContract{{TargetFile: "report.md", Order: "Summarize first.", Format: "Use markdown."}},
		},
		SystemPrompt: "engineer persona",
		Instruction:  "do the thing",
	})

	require.Equal(t, agentclient.StatusDone, result.Status)
	require.Equal(t, "report written", result.Phase2Content)

	calls := client.Calls()
	require.Len(t, calls, 2)
	require.NotContains(t, calls[0].Opts.AllowedTools, "Write")
	require.Equal(t, []string{"Write"}, calls[1].Opts.AllowedTools)
	require.Contains(t, calls[1].Prompt, "Summarize first.")
	require.Contains(t, calls[1].Prompt, "Use markdown.")
	require.Contains(t, calls[1].Prompt, "report.md")
}

func TestRunnerDrivesJudgePhaseWhenRuleNeedsTag(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: "did the thing", SessionID: "s1"},
			{Status: agentclient.StatusDone, Content: "[DONE]", SessionID: "s1"},
		},
	})
	r := New(client)

	result := r.Run(context.Background(), Input{
		Movement: piece.Movement{
			Name: "implement",
			Rules: []piece.Rule{
				{Condition: "[DONE]", Next: piece.Complete},
			},
		},
		SystemPrompt: "engineer persona",
		Instruction:  "do the thing",
	})

	require.Equal(t, "[DONE]", result.Phase3Content)
	calls := client.Calls()
	require.Len(t, calls, 2)
	require.Empty(t, calls[1].Opts.AllowedTools)
	require.Equal(t, 3, calls[1].Opts.MaxTurns)
}

func TestRunnerStopsAfterBlockedPhase1(t *testing.T) {
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {{Status: agentclient.StatusBlocked, Content: "need a decision"}},
	})
	r := New(client)

	result := r.Run(context.Background(), Input{
		Movement:     piece.Movement{Name: "implement", OutputContracts: []piece.OutputContract{{TargetFile: "x.md"}}},
		SystemPrompt: "engineer persona",
		Instruction:  "do the thing",
	})

	require.Equal(t, agentclient.StatusBlocked, result.Status)
	require.Equal(t, "need a decision", result.Phase1Content)
	require.Len(t, client.Calls(), 1)
}

func TestRunnerPropagatesCancellation(t *testing.T) {
	client := agentclient.NewMockScript(nil)
	r := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Run(ctx, Input{Movement: piece.Movement{Name: "implement"}, SystemPrompt: "x", Instruction: "y"})
	require.Equal(t, agentclient.StatusInterrupted, result.Status)
}
