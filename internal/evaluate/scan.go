package evaluate

import (
	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/rules"
)

// FindingKind says what a Finding would have done to a live session.
type FindingKind string

const (
	FindingPermission FindingKind = "permission"
	FindingTerminate  FindingKind = "terminate"
)

// Finding is one rule hit while scanning a recorded transcript.
type Finding struct {
	Index   int         `json:"index"` // entry that was newest when the rule fired
	Kind    FindingKind `json:"kind"`
	Rule    string      `json:"rule"`
	Details string      `json:"details,omitempty"`
}

// Scan re-evaluates a recorded transcript the way a live session would,
// with one evaluation after every append. Every permission request is
// assumed granted. Scanning stops at the first termination, which is the
// last Finding returned.
func Scan(ev Evaluator, ruleSet rules.RuleSet, entries []eventlog.Entry) []Finding {
	var findings []Finding
	for i := range entries {
		snapshot := entries[:i+1]
		newest := snapshot[i].Index

		if m, ok := ev.FindTerminationMatch(snapshot, ruleSet.TerminateIf); ok {
			return append(findings, Finding{Index: newest, Kind: FindingTerminate, Rule: m.Rule, Details: m.Details})
		}
		if r, ok := ev.FindPermissionMatch(snapshot, ruleSet.AskPermissionIf); ok {
			findings = append(findings, Finding{Index: newest, Kind: FindingPermission, Rule: r})
		}
	}
	return findings
}
