package ruleeval

import (
	"context"
	"testing"

	"github.com/cklxx/takt/internal/piece"
	"github.com/stretchr/testify/require"
)

func TestEvaluateTextualMatch(t *testing.T) {
	e := &Evaluator{}
	rules := []piece.Rule{
		{Condition: "approved", Next: "COMPLETE"},
		{Condition: "needs changes", Next: "revise"},
	}
	m, ok, err := e.Evaluate(context.Background(), rules, EvalInput{Phase1Content: "Looks great, Needs Changes on line 3"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Index)
	require.Equal(t, MethodTextual, m.Method)
}

func TestEvaluateTagMatchBeforeTextual(t *testing.T) {
	e := &Evaluator{}
	rules := []piece.Rule{
		{Condition: "[APPROVE:1]", Next: "COMPLETE"},
		{Condition: "approve", Next: "revise"},
	}
	m, ok, err := e.Evaluate(context.Background(), rules, EvalInput{
		Phase1Content: "I approve this change",
		Phase3Content: "[APPROVE:1]",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, m.Index)
	require.Equal(t, MethodPhase1Tag, m.Method)
}

func TestEvaluateAggregateAllBeforeAny(t *testing.T) {
	e := &Evaluator{}
	rules := []piece.Rule{
		{AggregateType: "any", AggregateConditionText: "failed", Next: "retry"},
		{AggregateType: "all", AggregateConditionText: "passed", Next: "COMPLETE"},
	}
	m, ok, err := e.Evaluate(context.Background(), rules, EvalInput{SubConditions: []string{"passed", "passed"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Index)
}

func TestEvaluateSkipsInteractiveOnlyWhenNonInteractive(t *testing.T) {
	e := &Evaluator{Interactive: false}
	rules := []piece.Rule{
		{Condition: "ask", InteractiveOnly: true, Next: "ask-user"},
		{Condition: "done", Next: "COMPLETE"},
	}
	m, ok, err := e.Evaluate(context.Background(), rules, EvalInput{Phase1Content: "ask the user, then done"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Index, "interactive-only rule must be skipped non-interactively")
}

func TestEvaluateNoMatchReturnsFalse(t *testing.T) {
	e := &Evaluator{}
	rules := []piece.Rule{{Condition: "approved", Next: "COMPLETE"}}
	_, ok, err := e.Evaluate(context.Background(), rules, EvalInput{Phase1Content: "still working"})
	require.NoError(t, err)
	require.False(t, ok)
}

type stubJudge struct{ index int }

func (s stubJudge) SelectRule(ctx context.Context, response string, candidates []string) (int, error) {
	return s.index, nil
}

func TestEvaluateFallsBackToJudge(t *testing.T) {
	e := &Evaluator{JudgeEnabled: true, Judge: stubJudge{index: 0}}
	rules := []piece.Rule{{Condition: "approved", Next: "COMPLETE"}, {Condition: "rejected", Next: "revise"}}
	m, ok, err := e.Evaluate(context.Background(), rules, EvalInput{Phase1Content: "ambiguous response"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, m.Index)
	require.Equal(t, MethodAIJudge, m.Method)
}
