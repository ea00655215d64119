package escalate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Terminal writes escalations to the workflow log on stderr.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal creates a terminal escalator writing to stderr.
func NewTerminal() *Terminal {
	return &Terminal{out: os.Stderr}
}

// NewTerminalWithWriter creates a terminal escalator with a custom writer.
// Intended for tests.
func NewTerminalWithWriter(w io.Writer) *Terminal {
	return &Terminal{out: w}
}

// Escalate writes the escalation to the log.
func (t *Terminal) Escalate(ctx context.Context, e Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "\n[%s] %s\n", e.Severity, e.Title)
	fmt.Fprintf(t.out, "   issue: #%d\n", e.Issue)
	if e.EM > 0 {
		fmt.Fprintf(t.out, "   record: em %d", e.EM)
		if e.Worker > 0 {
			fmt.Fprintf(t.out, ", worker %d", e.Worker)
		}
		fmt.Fprintln(t.out)
	}
	fmt.Fprintf(t.out, "   %s\n", e.Message)
	for k, v := range e.Context {
		fmt.Fprintf(t.out, "   %s: %s\n", k, v)
	}

	return nil
}

// Name returns "terminal".
func (t *Terminal) Name() string { return "terminal" }
