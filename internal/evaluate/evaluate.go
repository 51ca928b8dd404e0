// Package evaluate decides, from a log snapshot and a rule list, whether a
// session should terminate or pause for permission.
//
// Evaluators never fail. A rule that cannot be interpreted simply never
// matches, so the remaining rules keep working.
package evaluate

import "github.com/ppiankov/monmon/internal/eventlog"

// DefaultWindow is how many recent entries literal termination rules inspect.
const DefaultWindow = 10

// Match is a termination rule hit.
type Match struct {
	Rule    string // the rule string as configured
	Details string // evidence; empty for loop and counting rules
}

// Evaluator is the rule-matching strategy consulted by the monitor on every
// poll. Implementations must be safe for concurrent use and must not retain
// or modify the snapshot.
type Evaluator interface {
	// FindTerminationMatch returns the first rule, in declaration order,
	// that the snapshot satisfies.
	FindTerminationMatch(snapshot []eventlog.Entry, rules []string) (Match, bool)

	// FindPermissionMatch returns the first rule, in declaration order,
	// matched by the newest entry of the snapshot.
	FindPermissionMatch(snapshot []eventlog.Entry, rules []string) (string, bool)
}

// Chain consults evaluators in order; the first one to report a match wins.
func Chain(evaluators ...Evaluator) Evaluator {
	return chain(evaluators)
}

type chain []Evaluator

func (c chain) FindTerminationMatch(snapshot []eventlog.Entry, rules []string) (Match, bool) {
	for _, e := range c {
		if m, ok := e.FindTerminationMatch(snapshot, rules); ok {
			return m, true
		}
	}
	return Match{}, false
}

func (c chain) FindPermissionMatch(snapshot []eventlog.Entry, rules []string) (string, bool) {
	for _, e := range c {
		if r, ok := e.FindPermissionMatch(snapshot, rules); ok {
			return r, true
		}
	}
	return "", false
}
