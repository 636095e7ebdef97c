// Package ruleeval implements the Rule Evaluator: tag-based, aggregate,
// textual, and AI-judge rule matching over a movement's agent responses.
package ruleeval

import (
	"context"
	"regexp"
	"strings"

	"github.com/cklxx/takt/internal/piece"
)

// Method names the matching strategy that produced a Match.
type Method string

const (
	MethodPhase1Tag Method = "phase1_tag"
	MethodTextual   Method = "textual"
	MethodAggregate Method = "aggregate"
	MethodAIJudge   Method = "ai_judge"
)

// Match is the evaluator's result for a single movement response.
type Match struct {
	Index  int
	Method Method
}

// TagRegexFunc returns a compiled matcher for a rule condition; satisfied
// directly by (*piece.Loader).TagRegex.
type TagRegexFunc func(pieceName, movementName, condition string) (*regexp.Regexp, error)

// Judge is the narrow AI-judge capability: given the response text and the
// candidate rule conditions, return the selected index or -1 for "no
// match".
type Judge interface {
	SelectRule(ctx context.Context, response string, candidates []string) (int, error)
}

// Evaluator evaluates a movement's rules against Phase 1/3 content.
type Evaluator struct {
	TagRegex      TagRegexFunc
	Judge         Judge
	Interactive   bool
	JudgeEnabled  bool
}

// EvalInput bundles the content an evaluation pass considers.
type EvalInput struct {
	PieceName      string
	MovementName   string
	Phase1Content  string
	Phase3Content  string
	SubConditions  []string // matched sub-movement conditions, for aggregate rules
}

// Evaluate runs the ordered match strategy from SPEC_FULL.md §4.4 and
// returns the selected rule, or ok=false if nothing matched.
func (e *Evaluator) Evaluate(ctx context.Context, rules []piece.Rule, in EvalInput) (Match, bool, error) {
	eligible := e.eligibleRules(rules)

	if m, ok := e.matchTags(eligible, in); ok {
		return m, true, nil
	}
	if m, ok := e.matchAggregate(eligible, in); ok {
		return m, true, nil
	}
	if m, ok := e.matchTextual(eligible, in); ok {
		return m, true, nil
	}
	if e.JudgeEnabled && e.Judge != nil {
		if m, ok, err := e.matchJudge(ctx, eligible, in); err != nil {
			return Match{}, false, err
		} else if ok {
			return m, true, nil
		}
	}
	return Match{}, false, nil
}

// eligibleRules drops interactive_only rules when non-interactive.
func (e *Evaluator) eligibleRules(rules []piece.Rule) []indexedRule {
	var out []indexedRule
	for i, r := range rules {
		if r.InteractiveOnly && !e.Interactive {
			continue
		}
		out = append(out, indexedRule{index: i, rule: r})
	}
	return out
}

type indexedRule struct {
	index int
	rule  piece.Rule
}

func (e *Evaluator) matchTags(rules []indexedRule, in EvalInput) (Match, bool) {
	for _, ir := range rules {
		if ir.rule.IsAggregate() || !isTag(ir.rule.Condition) {
			continue
		}
		re, err := e.tagMatcher(in.PieceName, in.MovementName, ir.rule.Condition)
		if err != nil {
			continue
		}
		if re.MatchString(in.Phase3Content) || re.MatchString(in.Phase1Content) {
			return Match{Index: ir.index, Method: MethodPhase1Tag}, true
		}
	}
	return Match{}, false
}

func (e *Evaluator) tagMatcher(pieceName, movementName, condition string) (*regexp.Regexp, error) {
	if e.TagRegex == nil {
		return regexp.Compile(regexp.QuoteMeta(condition))
	}
	return e.TagRegex(pieceName, movementName, condition)
}

func isTag(condition string) bool {
	return len(condition) > 1 && condition[0] == '[' && condition[len(condition)-1] == ']'
}

func (e *Evaluator) matchAggregate(rules []indexedRule, in EvalInput) (Match, bool) {
	// all() before any(), per SPEC_FULL.md §4.4.
	for _, ir := range rules {
		if ir.rule.AggregateType != "all" {
			continue
		}
		if allEqual(in.SubConditions, ir.rule.AggregateConditionText) {
			return Match{Index: ir.index, Method: MethodAggregate}, true
		}
	}
	for _, ir := range rules {
		if ir.rule.AggregateType != "any" {
			continue
		}
		if anyEqual(in.SubConditions, ir.rule.AggregateConditionText) {
			return Match{Index: ir.index, Method: MethodAggregate}, true
		}
	}
	return Match{}, false
}

func allEqual(conditions []string, target string) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if c != target {
			return false
		}
	}
	return true
}

func anyEqual(conditions []string, target string) bool {
	for _, c := range conditions {
		if c == target {
			return true
		}
	}
	return false
}

func (e *Evaluator) matchTextual(rules []indexedRule, in EvalInput) (Match, bool) {
	lower := strings.ToLower(in.Phase1Content)
	for _, ir := range rules {
		if ir.rule.IsAggregate() || isTag(ir.rule.Condition) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(ir.rule.Condition)) {
			return Match{Index: ir.index, Method: MethodTextual}, true
		}
	}
	return Match{}, false
}

func (e *Evaluator) matchJudge(ctx context.Context, rules []indexedRule, in EvalInput) (Match, bool, error) {
	if len(rules) == 0 {
		return Match{}, false, nil
	}
	candidates := make([]string, len(rules))
	for i, ir := range rules {
		candidates[i] = ir.rule.Condition
	}
	selected, err := e.Judge.SelectRule(ctx, in.Phase1Content, candidates)
	if err != nil {
		return Match{}, false, err
	}
	if selected < 0 || selected >= len(rules) {
		return Match{}, false, nil
	}
	return Match{Index: rules[selected].index, Method: MethodAIJudge}, true, nil
}
