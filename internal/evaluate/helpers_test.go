package evaluate

import (
	"time"

	"github.com/ppiankov/monmon/internal/eventlog"
)

type msg struct {
	role    string
	content any
}

func a(content any) msg { return msg{eventlog.RoleAssistant, content} }
func u(content any) msg { return msg{eventlog.RoleUser, content} }

func snapshot(msgs ...msg) []eventlog.Entry {
	out := make([]eventlog.Entry, len(msgs))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, m := range msgs {
		out[i] = eventlog.Entry{
			Index:     i,
			Role:      m.role,
			Content:   m.content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func repeat(m msg, n int) []msg {
	out := make([]msg, n)
	for i := range out {
		out[i] = m
	}
	return out
}
