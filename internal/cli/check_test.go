package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/monmon/internal/config"
	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/rules"
)

const sampleTranscript = `{"role":"assistant","content":"thinking"}

{"role":"user","content":"Please solve this CAPTCHA to continue."}
{"content":"let me check facebook.com"}
{"role":"user","content":"never reached"}
`

func TestReadTranscript(t *testing.T) {
	entries, err := readTranscript(strings.NewReader(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[2].Role != "assistant" || entries[2].Index != 2 {
		t.Errorf("missing role should default to assistant, got %+v", entries[2])
	}
}

func TestReadTranscriptBadLine(t *testing.T) {
	_, err := readTranscript(strings.NewReader("{\"role\":\"user\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected an error naming line 2, got %v", err)
	}
}

func TestCheckReportsFirstTermination(t *testing.T) {
	entries, err := readTranscript(strings.NewReader(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}
	rs := rules.RuleSet{TerminateIf: []string{"facebook.com"}, AskPermissionIf: []string{"CAPTCHA"}}
	findings := evaluate.Scan(evaluate.NewLocal(), rs, entries)

	var out bytes.Buffer
	err = reportFindings(&out, "text", len(entries), findings)
	if !errors.Is(err, errWouldTerminate) {
		t.Fatalf("expected errWouldTerminate, got %v", err)
	}
	text := out.String()
	if !strings.Contains(text, `entry 1: permission required for "CAPTCHA"`) {
		t.Errorf("permission finding missing:\n%s", text)
	}
	if !strings.Contains(text, `entry 2: terminate on "facebook.com"`) {
		t.Errorf("termination finding missing:\n%s", text)
	}
}

func TestCheckCleanTranscriptJSON(t *testing.T) {
	var out bytes.Buffer
	if err := reportFindings(&out, "json", 3, nil); err != nil {
		t.Fatal(err)
	}
	var report checkReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	if report.Entries != 3 || report.Terminated || report.Findings == nil {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCheckUnknownFormat(t *testing.T) {
	if err := reportFindings(&bytes.Buffer{}, "xml", 0, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRunLint(t *testing.T) {
	var out bytes.Buffer
	clean := &config.Config{RuleSet: rules.RuleSet{TerminateIf: []string{"facebook.com"}}}
	if err := runLint(&out, clean); err != nil {
		t.Fatalf("clean rules should pass: %v", err)
	}
	if !strings.Contains(out.String(), "no problems found") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	out.Reset()
	dirty := &config.Config{RuleSet: rules.RuleSet{TerminateIf: []string{"x", "x"}}}
	if err := runLint(&out, dirty); err == nil {
		t.Fatal("duplicate rules should fail lint")
	}
	if !strings.Contains(out.String(), "warning:") {
		t.Errorf("warnings not printed:\n%s", out.String())
	}
}
