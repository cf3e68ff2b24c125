// Package console implements the host collaborators of the background
// supervisor for a line oriented terminal.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Prompter shows background errors on a writer. With an input it asks
// whether further errors of the job should be suppressed, without one it
// answers with the configured default.
type Prompter struct {
	mu       sync.Mutex
	out      io.Writer
	in       *bufio.Reader
	suppress bool
}

// NewPrompter returns a Prompter writing to out. in may be nil.
func NewPrompter(out io.Writer, in io.Reader, suppress bool) *Prompter {
	p := &Prompter{out: out, suppress: suppress}
	if in != nil {
		p.in = bufio.NewReader(in)
	}
	return p
}

func (p *Prompter) ConfirmOrSuppress(title, text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.print(title, text)
	if p.in == nil {
		return p.suppress
	}
	_, _ = fmt.Fprint(p.out, "Suppress further errors of this job? [y/N] ")
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		// input closed, nobody is going to answer
		p.in = nil
		_, _ = fmt.Fprintln(p.out)
		return p.suppress
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *Prompter) NotifyImmediate(title, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print(title, text)
}

func (p *Prompter) print(title, text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, _ = fmt.Fprintf(p.out, "%s: %s", title, text)
}
