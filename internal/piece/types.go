// Package piece defines the Piece/Movement/Rule data model and the loader
// that resolves a piece identifier into a validated, immutable Piece.
package piece

import (
	"fmt"
	"strings"
)

// Reserved movement-transition targets.
const (
	Complete = "COMPLETE"
	Abort    = "ABORT"
)

// PermissionMode gates which filesystem/tool operations a movement's agent
// call may perform.
type PermissionMode string

const (
	PermissionReadonly PermissionMode = "readonly"
	PermissionEdit     PermissionMode = "edit"
	PermissionFull     PermissionMode = "full"
)

// SessionMode controls whether a movement resumes its prior conversational
// session or starts a fresh one on every iteration.
type SessionMode string

const (
	SessionContinue SessionMode = "continue"
	SessionRefresh  SessionMode = "refresh"
)

// Rule is a routing edge evaluated after a movement's agent responses are
// collected.
type Rule struct {
	Condition              string `yaml:"condition" json:"condition"`
	Next                   string `yaml:"next,omitempty" json:"next,omitempty"`
	Appendix               string `yaml:"appendix,omitempty" json:"appendix,omitempty"`
	RequiresUserInput      bool   `yaml:"requires_user_input,omitempty" json:"requires_user_input,omitempty"`
	InteractiveOnly        bool   `yaml:"interactive_only,omitempty" json:"interactive_only,omitempty"`
	AggregateType          string `yaml:"aggregate_type,omitempty" json:"aggregate_type,omitempty"` // all|any
	AggregateConditionText string `yaml:"aggregate_condition,omitempty" json:"aggregate_condition,omitempty"`
}

// IsAggregate reports whether the rule's condition is an all()/any() form.
func (r Rule) IsAggregate() bool {
	return r.AggregateType == "all" || r.AggregateType == "any"
}

// OutputContract names a file a movement's Phase 2 call must write, plus
// the instructions bracketing the Phase 2 instruction.
type OutputContract struct {
	TargetFile string `yaml:"target_file" json:"target_file"`
	Order      string `yaml:"order,omitempty" json:"order,omitempty"`
	Format     string `yaml:"format,omitempty" json:"format,omitempty"`
}

// ArpeggioSpec configures the data-driven CSV batch fan-out variant of a
// movement.
type ArpeggioSpec struct {
	Source         string `yaml:"source" json:"source"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	Concurrency    int    `yaml:"concurrency" json:"concurrency"`
	MergeStrategy  string `yaml:"merge_strategy" json:"merge_strategy"` // concat|custom
	MergeSeparator string `yaml:"merge_separator,omitempty" json:"merge_separator,omitempty"`
	MergeScript    string `yaml:"merge_script,omitempty" json:"merge_script,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelayMs   int    `yaml:"retry_delay_ms,omitempty" json:"retry_delay_ms,omitempty"`
	OutputFile     string `yaml:"output_file,omitempty" json:"output_file,omitempty"`
}

// TeamLeaderSpec configures the JSON-part-spec fan-out variant.
type TeamLeaderSpec struct {
	MaxParts       int `yaml:"max_parts,omitempty" json:"max_parts,omitempty"`
	PartTimeoutSec int `yaml:"part_timeout_sec,omitempty" json:"part_timeout_sec,omitempty"`
}

// Movement is one node of a piece's workflow graph.
type Movement struct {
	Name                  string            `yaml:"name" json:"name"`
	Persona               string            `yaml:"persona" json:"persona"`
	Policy                string            `yaml:"policy,omitempty" json:"policy,omitempty"`
	Knowledge             string            `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
	InstructionTemplate   string            `yaml:"instruction_template" json:"instruction_template"`
	Rules                 []Rule            `yaml:"rules" json:"rules"`
	OutputContracts       []OutputContract  `yaml:"output_contracts,omitempty" json:"output_contracts,omitempty"`
	QualityGates          []string          `yaml:"quality_gates,omitempty" json:"quality_gates,omitempty"`
	AllowedTools          []string          `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	MCPServers            map[string]string `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	RequiredPermissionMode PermissionMode   `yaml:"required_permission_mode,omitempty" json:"required_permission_mode,omitempty"`
	Edit                  bool              `yaml:"edit,omitempty" json:"edit,omitempty"`
	Session               SessionMode       `yaml:"session,omitempty" json:"session,omitempty"`
	PassPreviousResponse  bool              `yaml:"pass_previous_response,omitempty" json:"pass_previous_response,omitempty"`
	Provider              string            `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model                 string            `yaml:"model,omitempty" json:"model,omitempty"`
	ProviderOptions       map[string]any    `yaml:"provider_options,omitempty" json:"provider_options,omitempty"`

	Parallel   []string        `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Arpeggio   *ArpeggioSpec   `yaml:"arpeggio,omitempty" json:"arpeggio,omitempty"`
	TeamLeader *TeamLeaderSpec `yaml:"team_leader,omitempty" json:"team_leader,omitempty"`
}

// NeedsJudgePhase reports whether any rule in this movement depends on a
// Phase-3 tag, in which case the Phase Runner must run the judge phase.
func (m Movement) NeedsJudgePhase() bool {
	for _, r := range m.Rules {
		if !r.IsAggregate() && isTagCondition(r.Condition) {
			return true
		}
	}
	return false
}

func isTagCondition(condition string) bool {
	return len(condition) > 1 && condition[0] == '[' && condition[len(condition)-1] == ']'
}

// normalizeAggregateRule parses a YAML condition of the form all(x) or
// any(x) into AggregateType/AggregateConditionText, per SPEC_FULL.md §6's
// aggregate rule grammar. A rule that already sets AggregateType directly
// (e.g. hand-constructed in tests) is left untouched.
func normalizeAggregateRule(r *Rule) {
	if r.AggregateType != "" {
		return
	}
	condition := strings.TrimSpace(r.Condition)
	for _, kind := range []string{"all", "any"} {
		prefix := kind + "("
		if strings.HasPrefix(condition, prefix) && strings.HasSuffix(condition, ")") {
			r.AggregateType = kind
			r.AggregateConditionText = strings.TrimSpace(condition[len(prefix) : len(condition)-1])
			return
		}
	}
}

// IsParallelContainer reports whether this movement fans out to
// sub-movements via parallel, arpeggio, or teamLeader.
func (m Movement) IsParallelContainer() bool {
	return len(m.Parallel) > 0 || m.Arpeggio != nil || m.TeamLeader != nil
}

// LoopMonitor detects repeated movement cycles and dispatches to a judge
// persona when a cycle repeats past threshold.
type LoopMonitor struct {
	Cycle     []string `yaml:"cycle" json:"cycle"`
	Threshold int      `yaml:"threshold" json:"threshold"`
	Judge     string   `yaml:"judge" json:"judge"`
}

// Piece is an immutable, validated workflow definition.
type Piece struct {
	Name             string              `yaml:"name" json:"name"`
	Description      string              `yaml:"description,omitempty" json:"description,omitempty"`
	InitialMovement  string              `yaml:"initial_movement,omitempty" json:"initial_movement,omitempty"`
	MaxMovements     int                 `yaml:"max_movements,omitempty" json:"max_movements,omitempty"`
	Movements        []Movement          `yaml:"movements" json:"movements"`
	LoopMonitors     []LoopMonitor       `yaml:"loop_monitors,omitempty" json:"loop_monitors,omitempty"`
	InteractiveMode  bool                `yaml:"interactive_mode,omitempty" json:"interactive_mode,omitempty"`
	AnswerAgent      string              `yaml:"answer_agent,omitempty" json:"answer_agent,omitempty"`
	Personas         map[string]string   `yaml:"personas,omitempty" json:"personas,omitempty"`
	Policies         map[string]string   `yaml:"policies,omitempty" json:"policies,omitempty"`
	Knowledge        map[string]string   `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
	Instructions     map[string]string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	ReportFormats    map[string]string   `yaml:"report_formats,omitempty" json:"report_formats,omitempty"`

	movementsByName map[string]Movement
}

// Movement looks up a movement by name after Validate has indexed them.
func (p *Piece) Movement(name string) (Movement, bool) {
	m, ok := p.movementsByName[name]
	return m, ok
}

// ValidationError reports a schema or graph-reference violation discovered
// while validating a loaded piece.
type ValidationError struct {
	Piece  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("piece %q invalid: %s", e.Piece, e.Reason)
}

// Validate checks the invariants from SPEC_FULL.md §3: initial movement
// exists, every rule.next resolves, parallel/arpeggio/teamLeader are
// mutually exclusive, and at most one ruleless (no next) rule per movement.
func (p *Piece) Validate() error {
	if len(p.Movements) == 0 {
		return &ValidationError{Piece: p.Name, Reason: "must declare at least one movement"}
	}
	if p.MaxMovements <= 0 {
		p.MaxMovements = 10
	}

	for i := range p.Movements {
		for j := range p.Movements[i].Rules {
			normalizeAggregateRule(&p.Movements[i].Rules[j])
		}
	}

	p.movementsByName = make(map[string]Movement, len(p.Movements))
	for _, m := range p.Movements {
		if _, dup := p.movementsByName[m.Name]; dup {
			return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("duplicate movement name %q", m.Name)}
		}
		p.movementsByName[m.Name] = m
	}

	if p.InitialMovement == "" {
		p.InitialMovement = p.Movements[0].Name
	}
	if _, ok := p.movementsByName[p.InitialMovement]; !ok {
		return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("initial_movement %q is not a declared movement", p.InitialMovement)}
	}

	for _, m := range p.Movements {
		combinators := 0
		if len(m.Parallel) > 0 {
			combinators++
		}
		if m.Arpeggio != nil {
			combinators++
		}
		if m.TeamLeader != nil {
			combinators++
		}
		if combinators > 1 {
			return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("movement %q: parallel, arpeggio, team_leader are mutually exclusive", m.Name)}
		}

		ruleless := 0
		for _, r := range m.Rules {
			if r.Next == "" {
				ruleless++
				continue
			}
			if r.Next == Complete || r.Next == Abort {
				continue
			}
			if _, ok := p.movementsByName[r.Next]; !ok {
				return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("movement %q: rule next %q is not a declared movement", m.Name, r.Next)}
			}
		}
		if ruleless > 1 {
			return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("movement %q: at most one rule may omit next", m.Name)}
		}
		if ruleless == 1 && !m.IsParallelContainer() {
			return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("movement %q: a rule without next is only legal on a parallel container", m.Name)}
		}
		if len(m.OutputContracts) == 0 {
			for _, r := range m.Rules {
				if isTagCondition(r.Condition) {
					return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("movement %q: tag-based rule requires at least one output_contract", m.Name)}
				}
			}
		}
	}

	for _, lm := range p.LoopMonitors {
		for _, name := range lm.Cycle {
			if _, ok := p.movementsByName[name]; !ok {
				return &ValidationError{Piece: p.Name, Reason: fmt.Sprintf("loop monitor references unknown movement %q", name)}
			}
		}
	}

	return nil
}
