package parallelrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/movement"
	"github.com/cklxx/takt/internal/phase"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
)

func fanOutPiece() *piece.Piece {
	p := &piece.Piece{
		Name:            "demo",
		InitialMovement: "fanout",
		MaxMovements:    10,
		Personas:        map[string]string{"engineer": "engineer persona"},
		Movements: []piece.Movement{
			{
				Name:     "fanout",
				Parallel: []string{"left", "right"},
				Rules: []piece.Rule{
					{Condition: "ok", Next: piece.Complete, AggregateType: "all", AggregateConditionText: "ok"},
					{Condition: "partial", Next: "fanout", AggregateType: "any", AggregateConditionText: "ok"},
				},
			},
			{
				Name:                "left",
				Persona:             "engineer",
				InstructionTemplate: "left work",
				Rules:               []piece.Rule{{Condition: "ok", Next: piece.Complete}},
			},
			{
				Name:                "right",
				Persona:             "engineer",
				InstructionTemplate: "right work",
				Rules:               []piece.Rule{{Condition: "ok", Next: piece.Complete}},
			},
		},
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func newRunner(p *piece.Piece, client agentclient.Client, sink func(string)) *Runner {
	phaseRunner := phase.New(client)
	ex := movement.New(p, phaseRunner, &ruleeval.Evaluator{}, "task", "", "")
	return &Runner{Piece: p, Executor: ex, Evaluator: &ruleeval.Evaluator{}, Sink: sink}
}

func TestRunnerFansOutAndMergesSuccessfulSubs(t *testing.T) {
	p := fanOutPiece()
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: "ok done"},
			{Status: agentclient.StatusDone, Content: "ok done"},
		},
	})

	var lines []string
	r := newRunner(p, client, func(s string) { lines = append(lines, s) })
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("fanout")

	result, err := r.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Contains(t, result.Content, "## left")
	require.Contains(t, result.Content, "## right")
	require.Equal(t, []string{"ok", "ok"}, result.SubConditions)
	require.Equal(t, 0, result.MatchedRuleIndex)
}

func TestRunnerMergesPartialFailureAsSuccess(t *testing.T) {
	p := fanOutPiece()
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: "ok done"},
			{Status: agentclient.StatusError, Err: errBoom{}},
		},
	})

	r := newRunner(p, client, nil)
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("fanout")

	result, err := r.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Contains(t, result.Content, "[ERROR]")
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestRunnerAbortsWhenEverySubFails(t *testing.T) {
	p := fanOutPiece()
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusError, Err: errBoom{}},
			{Status: agentclient.StatusError, Err: errBoom{}},
		},
	})

	r := newRunner(p, client, nil)
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("fanout")

	_, err := r.RunMovement(context.Background(), st, m)
	require.Error(t, err)
}

func TestRunnerArpeggioBatchesAndMergesCSVSource(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("col1,col2\na,1\nb,2\nc,3\n"), 0o644))

	p := &piece.Piece{
		Name:            "demo",
		InitialMovement: "batch",
		MaxMovements:    10,
		Personas:        map[string]string{"engineer": "engineer persona"},
		Movements: []piece.Movement{
			{
				Name:                "batch",
				Persona:             "engineer",
				InstructionTemplate: "process {batch}",
				Arpeggio: &piece.ArpeggioSpec{
					Source:        csvPath,
					BatchSize:     2,
					Concurrency:   2,
					MergeStrategy: "concat",
				},
				Rules: []piece.Rule{{Condition: "ok", Next: piece.Complete}},
			},
		},
	}
	require.NoError(t, p.Validate())

	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: "batch 1 done"},
			{Status: agentclient.StatusDone, Content: "batch 2 done"},
		},
	})

	r := newRunner(p, client, nil)
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("batch")

	result, err := r.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Contains(t, result.Content, "batch")
}

func TestRunnerTeamLeaderParsesPartSpecsAndCapsAtMaxParts(t *testing.T) {
	p := &piece.Piece{
		Name:            "demo",
		InitialMovement: "lead",
		MaxMovements:    10,
		Personas:        map[string]string{"engineer": "engineer persona"},
		Movements: []piece.Movement{
			{
				Name:     "lead",
				Persona:  "engineer",
				TeamLeader: &piece.TeamLeaderSpec{MaxParts: 2},
				Rules:    []piece.Rule{{Condition: "ok", Next: piece.Complete}},
			},
		},
	}
	require.NoError(t, p.Validate())

	plan := `Here is the plan: [{"id":"p1","title":"First","instruction":"do first"},{"id":"p2","title":"Second","instruction":"do second"},{"id":"p3","title":"Third","instruction":"do third"}]`
	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer persona": {
			{Status: agentclient.StatusDone, Content: plan},
			{Status: agentclient.StatusDone, Content: "ok done"},
			{Status: agentclient.StatusDone, Content: "ok done"},
		},
	})

	r := newRunner(p, client, nil)
	st := engine.NewState(p.Name, p.InitialMovement)
	m, _ := p.Movement("lead")

	result, err := r.RunMovement(context.Background(), st, m)
	require.NoError(t, err)
	require.Contains(t, result.Content, "## p1")
	require.Contains(t, result.Content, "## p2")
	require.NotContains(t, result.Content, "## p3")
}
