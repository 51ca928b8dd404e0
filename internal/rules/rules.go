// Package rules defines the two ordered rule lists a monitor evaluates and
// classifies individual rule strings.
package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// LoopSentinel is the rule string that selects the loop heuristic.
const LoopSentinel = "agent seems stuck in a loop"

// CountPrefix starts a counting rule: "the number of actions is > N".
const CountPrefix = "the number of actions is >"

// Kind identifies how a rule is evaluated beyond substring matching.
type Kind string

const (
	KindLiteral Kind = "literal"
	KindLoop    Kind = "loop"
	KindCount   Kind = "count"
)

// Rule is a classified rule string.
type Rule struct {
	Raw       string
	Kind      Kind
	Threshold int  // KindCount only
	Valid     bool // false for counting rules whose threshold does not parse
}

// Classify determines the kind of a rule string. It never fails: a counting
// rule with an unparseable threshold is returned with Valid=false.
func Classify(raw string) Rule {
	if raw == LoopSentinel {
		return Rule{Raw: raw, Kind: KindLoop, Valid: true}
	}
	if strings.HasPrefix(raw, CountPrefix) {
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(raw, CountPrefix)))
		if err != nil {
			return Rule{Raw: raw, Kind: KindCount}
		}
		return Rule{Raw: raw, Kind: KindCount, Threshold: n, Valid: true}
	}
	return Rule{Raw: raw, Kind: KindLiteral, Valid: raw != ""}
}

// RuleSet holds the termination and permission rule lists. Order is
// significant: the first matching rule wins.
type RuleSet struct {
	TerminateIf     []string `yaml:"terminate_if" toml:"terminate_if" json:"terminate_if"`
	AskPermissionIf []string `yaml:"ask_permission_if" toml:"ask_permission_if" json:"ask_permission_if"`
}

// Empty reports whether the set contains no rules at all.
func (rs RuleSet) Empty() bool {
	return len(rs.TerminateIf) == 0 && len(rs.AskPermissionIf) == 0
}

// Clone returns a deep copy so callers cannot mutate a monitor's rules.
func (rs RuleSet) Clone() RuleSet {
	return RuleSet{
		TerminateIf:     append([]string(nil), rs.TerminateIf...),
		AskPermissionIf: append([]string(nil), rs.AskPermissionIf...),
	}
}

// Lint returns human-readable warnings about rules that can never match or
// are redundant. It does not change how rules are evaluated.
func (rs RuleSet) Lint() []string {
	var warnings []string
	warnings = append(warnings, lintList("terminate_if", rs.TerminateIf, true)...)
	warnings = append(warnings, lintList("ask_permission_if", rs.AskPermissionIf, false)...)
	return warnings
}

func lintList(name string, list []string, termination bool) []string {
	var warnings []string
	seen := make(map[string]int)
	for i, raw := range list {
		key := strings.ToLower(raw)
		if prev, ok := seen[key]; ok {
			warnings = append(warnings, fmt.Sprintf("%s[%d]: duplicate of %s[%d] %q", name, i, name, prev, raw))
			continue
		}
		seen[key] = i

		r := Classify(raw)
		switch {
		case raw == "":
			warnings = append(warnings, fmt.Sprintf("%s[%d]: empty rule never matches", name, i))
		case r.Kind == KindCount && !r.Valid:
			warnings = append(warnings, fmt.Sprintf("%s[%d]: counting rule %q has no integer threshold and never fires", name, i, raw))
		case r.Kind != KindLiteral && !termination:
			warnings = append(warnings, fmt.Sprintf("%s[%d]: %q is only special in terminate_if; here it is a plain substring", name, i, raw))
		}
	}
	return warnings
}
