package movement

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/phase"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
)

func testPiece() *piece.Piece {
	p := &piece.Piece{
		Name:            "demo",
		InitialMovement: "implement",
		MaxMovements:    10,
		Personas:        map[string]string{"engineer": "You are a careful engineer."},
		Movements: []piece.Movement{
			{
				Name:                "implement",
				Persona:             "engineer",
				InstructionTemplate: "Task: {task}. Iteration {iteration}.",
				OutputContracts:     []piece.OutputContract{{TargetFile: "report.md"}},
				Rules: []piece.Rule{
					{Condition: "[DONE]", Next: piece.Complete},
				},
			},
		},
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func TestExecutorRunsMovementAndMatchesTagRule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("done"), 0o644))

	p := testPiece()
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"You are a careful engineer.": {
			{Status: agentclient.StatusDone, Content: "implemented it", SessionID: "s1"},
			{Status: agentclient.StatusDone, Content: "wrote report.md", SessionID: "s1"},
			{Status: agentclient.StatusDone, Content: "[DONE]", SessionID: "s1"},
		},
	})

	ex := New(p, phase.New(client), &ruleeval.Evaluator{}, "fix the bug", dir, dir)
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("implement")

	result, err := ex.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Equal(t, 0, result.MatchedRuleIndex)
	require.Equal(t, ruleeval.MethodPhase1Tag, result.MatchedRuleMethod)
	require.Len(t, result.ReportFiles, 1)
	require.Equal(t, "report.md", result.ReportFiles[0].Name)
}

func TestExecutorReturnsUnmatchedWhenNoRuleFires(t *testing.T) {
	p := testPiece()
	p.Movements[0].OutputContracts = nil
	p.Movements[0].Rules = []piece.Rule{{Condition: "nonsense-text", Next: piece.Complete}}

	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"You are a careful engineer.": {{Status: agentclient.StatusDone, Content: "unrelated", SessionID: "s1"}},
	})

	ex := New(p, phase.New(client), &ruleeval.Evaluator{}, "fix the bug", t.TempDir(), "")
	st := engine.NewState(p.Name, p.InitialMovement)
	m := p.Movements[0]

	result, err := ex.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Equal(t, -1, result.MatchedRuleIndex)
}

func TestRenderInstructionOmitsPreviousResponseWhenFlagUnset(t *testing.T) {
	p := testPiece()
	p.Movements[0].InstructionTemplate = "Task: {task}. Previous: {previous_response}"
	p.Movements[0].PassPreviousResponse = false

	ex := New(p, phase.New(agentclient.NewMockScript(nil)), &ruleeval.Evaluator{}, "fix the bug", "", "")
	st := engine.NewState(p.Name, p.InitialMovement)
	st.LastOutput = "the previous movement's full response"
	m := p.Movements[0]

	instruction := ex.renderInstruction(st, m)
	require.NotContains(t, instruction, "the previous movement's full response")
	require.Contains(t, instruction, "Previous: ")
}

func TestRenderInstructionIncludesPreviousResponseWhenFlagSet(t *testing.T) {
	p := testPiece()
	p.Movements[0].InstructionTemplate = "Task: {task}. Previous: {previous_response}"
	p.Movements[0].PassPreviousResponse = true

	ex := New(p, phase.New(agentclient.NewMockScript(nil)), &ruleeval.Evaluator{}, "fix the bug", "", "")
	st := engine.NewState(p.Name, p.InitialMovement)
	st.LastOutput = "the previous movement's full response"
	m := p.Movements[0]

	instruction := ex.renderInstruction(st, m)
	require.Contains(t, instruction, "the previous movement's full response")
}

func TestExecutorRejectsParallelContainer(t *testing.T) {
	p := testPiece()
	m := p.Movements[0]
	m.Parallel = []string{"a", "b"}

	ex := New(p, phase.New(agentclient.NewMockScript(nil)), &ruleeval.Evaluator{}, "task", "", "")
	st := engine.NewState(p.Name, p.InitialMovement)

	_, err := ex.RunMovement(context.Background(), st, m)
	require.Error(t, err)
}
