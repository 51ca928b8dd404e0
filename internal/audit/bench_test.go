package audit

import (
	"os"
	"path/filepath"
	"testing"
)

var benchEntry = Entry{
	SessionID: "s-bench",
	Event:     "paused",
	State:     "paused",
	Condition: "CAPTCHA",
	RulesHash: "sha256:bench",
}

func BenchmarkRecord(b *testing.B) {
	l, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()

	for b.Loop() {
		if err := l.Record(benchEntry); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	l, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 5000; i++ {
		if err := l.Record(benchEntry); err != nil {
			b.Fatal(err)
		}
	}
	l.Close()

	info, err := os.Stat(path)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(info.Size())
	for b.Loop() {
		if res := Verify(path); !res.Valid {
			b.Fatal(res.Error)
		}
	}
}
