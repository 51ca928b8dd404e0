package redact

import (
	"fmt"
	"sort"
	"strings"
)

// TokenMap assigns stable placeholder tokens to sensitive values. The same
// value always maps to the same token within one map. Not goroutine-safe.
type TokenMap struct {
	forward  map[string]string   // sensitive value → "<<TYPE_N>>"
	reverse  map[string]string   // "<<TYPE_N>>" → sensitive value
	counters map[PatternType]int // next number per pattern type
}

// NewTokenMap creates an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		forward:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[PatternType]int),
	}
}

// Token returns the token for a sensitive value.
func (tm *TokenMap) Token(typ PatternType, value string) string {
	if tok, ok := tm.forward[value]; ok {
		return tok
	}
	tm.counters[typ]++
	tok := fmt.Sprintf("<<%s_%d>>", typ, tm.counters[typ])
	tm.forward[value] = tok
	tm.reverse[tok] = value
	return tok
}

// Resolve returns the original value for a token.
func (tm *TokenMap) Resolve(token string) (string, bool) {
	v, ok := tm.reverse[token]
	return v, ok
}

// Len returns the number of token mappings.
func (tm *TokenMap) Len() int {
	return len(tm.forward)
}

// Redact replaces every sensitive value found in text with its token.
func (tm *TokenMap) Redact(text string) string {
	for _, m := range Scan(text) {
		tm.Token(m.Type, m.Value)
	}
	if len(tm.forward) == 0 {
		return text
	}

	// Longest first so a value that contains another is replaced whole.
	vals := make([]string, 0, len(tm.forward))
	for v := range tm.forward {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		return len(vals[i]) > len(vals[j])
	})

	pairs := make([]string, 0, 2*len(vals))
	for _, v := range vals {
		pairs = append(pairs, v, tm.forward[v])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
