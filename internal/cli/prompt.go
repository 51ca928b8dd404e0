package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

// granter is the part of a monitor a prompt resolves.
type granter interface {
	GrantPermission(granted bool) error
}

// prompter asks the operator on a terminal. Each request is answered on its
// own goroutine so the poll loop keeps evaluating termination rules while
// the question is open. End of input denies.
type prompter struct {
	in     *bufio.Reader
	out    io.Writer
	logger logging.Logger

	mu     sync.Mutex
	target granter
	asking bool
}

func newPrompter(in io.Reader, out io.Writer, logger logging.Logger) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, logger: logger}
}

func (p *prompter) setTarget(t granter) {
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
}

func (p *prompter) PermissionRequired(condition string) {
	p.mu.Lock()
	if p.asking || p.target == nil {
		p.mu.Unlock()
		return
	}
	p.asking = true
	target := p.target
	p.mu.Unlock()

	go func() {
		granted := p.ask(condition)
		p.mu.Lock()
		p.asking = false
		p.mu.Unlock()

		if err := target.GrantPermission(granted); err != nil && !errors.Is(err, monitor.ErrNotPaused) {
			p.logger.Warn("permission decision failed", logging.Err(err))
		}
	}()
}

func (p *prompter) ask(condition string) bool {
	fmt.Fprintf(p.out, "\n*** Permission required: %s ***\nGrant permission? [y/N]: ", condition)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	return parseAnswer(line)
}

// parseAnswer accepts y and yes in any case. Anything else is a no.
func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
