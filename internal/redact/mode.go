// Package redact masks credentials and personal data in transcript text
// before it leaves the machine, typically in an LLM judge prompt.
package redact

import (
	"fmt"
	"strings"
)

// Mode determines whether redaction is applied.
type Mode string

const (
	ModeLocal Mode = "local" // no redaction, the model runs on this host
	ModeCloud Mode = "cloud" // redaction, the model is remote
)

// DetectMode infers the redaction mode from the API URL. Localhost and
// 127.0.0.1 are local; everything else, including the provider default
// (empty URL), is cloud.
func DetectMode(apiURL string) Mode {
	lower := strings.ToLower(apiURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
		return ModeLocal
	}
	return ModeCloud
}

// ResolveMode determines the redaction mode from the API URL and a setting:
//   - "always" → cloud (force redaction)
//   - "never"  → local (skip redaction)
//   - "auto" or "" → detect from URL
func ResolveMode(apiURL, setting string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "always":
		return ModeCloud, nil
	case "never":
		return ModeLocal, nil
	case "auto", "":
		return DetectMode(apiURL), nil
	default:
		return "", fmt.Errorf("redact: unknown setting %q (use auto, always, or never)", setting)
	}
}

// Stringifier wraps a content renderer so its output is redacted. Each
// rendered entry gets its own token numbering.
func Stringifier(render func(any) string) func(any) string {
	return func(c any) string {
		return NewTokenMap().Redact(render(c))
	}
}
