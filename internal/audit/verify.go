package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of walking an audit log's hash chain.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Sessions  int    `json:"sessions"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify checks the chain of the log at path. The first broken link is
// reported with its line number.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader checks a chain read from r. Line 1 must link to GenesisHash
// and every later line to the SHA-256 of the line before it.
func VerifyReader(r io.Reader) VerifyResult {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	sessions := make(map[string]struct{})
	want := GenesisHash
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Lines: n - 1, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: n}
		}
		if entry.PrevHash != want {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", want, entry.PrevHash)
			if n == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return VerifyResult{Lines: n - 1, Error: msg, ErrorLine: n}
		}

		if entry.SessionID != "" {
			sessions[entry.SessionID] = struct{}{}
		}
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: n, Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: n, Sessions: len(sessions)}
}
