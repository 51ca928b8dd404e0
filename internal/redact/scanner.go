package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternPath  PatternType = "PATH"
	PatternIP    PatternType = "IP"
	PatternCred  PatternType = "CRED"
	PatternKey   PatternType = "KEY"
	PatternEmail PatternType = "EMAIL"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

// detector pairs a pattern with the category it reports. Detectors run in
// order; a value already claimed by an earlier detector is not reported again.
type detector struct {
	typ  PatternType
	re   *regexp.Regexp
	keep func(string) bool
}

// Hostnames are not matched: monitoring conditions are written against them.
var detectors = []detector{
	{typ: PatternCred, re: regexp.MustCompile(`(?i)(?:password|passwd|secret|token|api_key|apikey|auth)[ \t]*[=:][ \t]*\S+`)},
	{typ: PatternKey, re: regexp.MustCompile(`\b(?:(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}|gh[pousr]_[A-Za-z0-9]{20,}|xox[abpr]-[A-Za-z0-9\-]{10,}|AKIA[0-9A-Z]{16})\b`)},
	{typ: PatternEmail, re: regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)},
	{typ: PatternPath, re: regexp.MustCompile(`/(?:home|Users|etc|root)/\S+`)},
	{typ: PatternIP, re: regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), keep: notLoopback},
}

func notLoopback(ip string) bool {
	switch ip {
	case "127.0.0.1", "0.0.0.0", "255.255.255.255":
		return false
	}
	return true
}

// trailing is stripped from every match; it is usually sentence punctuation.
const trailing = ".,;:\"'`)}]"

// Scan returns each distinct sensitive value in text, ordered by where it
// first appears.
func Scan(text string) []Match {
	claimed := make(map[string]bool)
	var out []Match
	for _, d := range detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			v := strings.TrimRight(text[loc[0]:loc[1]], trailing)
			if v == "" || claimed[v] || (d.keep != nil && !d.keep(v)) {
				continue
			}
			claimed[v] = true
			out = append(out, Match{Type: d.typ, Value: v, Start: loc[0], End: loc[0] + len(v)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
