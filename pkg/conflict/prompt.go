package conflict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator whether an existing destination may be replaced.
type Prompter interface {
	Confirm(path string) (bool, error)
}

// PrompterFunc adapts a plain function to the Prompter interface.
type PrompterFunc func(path string) (bool, error)

// Confirm calls f(path).
func (f PrompterFunc) Confirm(path string) (bool, error) { return f(path) }

// StaticPrompter answers every prompt with the same value.
type StaticPrompter bool

// Confirm returns the fixed answer.
func (s StaticPrompter) Confirm(string) (bool, error) { return bool(s), nil }

// TerminalPrompter reads y/n answers from an interactive terminal.
type TerminalPrompter struct {
	in     *bufio.Reader
	out    io.Writer
	isTerm func() bool
}

// NewTerminalPrompter returns a prompter bound to the process's stdin and stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		isTerm: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// newPrompterFrom builds a prompter over arbitrary streams.
func newPrompterFrom(in io.Reader, out io.Writer, interactive bool) *TerminalPrompter {
	return &TerminalPrompter{
		in:     bufio.NewReader(in),
		out:    out,
		isTerm: func() bool { return interactive },
	}
}

// Confirm prints the question and reads one line. Only "y" or "yes" is
// consent; any other answer, including EOF, is a refusal. Without a terminal
// on stdin the answer is always no.
func (p *TerminalPrompter) Confirm(path string) (bool, error) {
	if !p.isTerm() {
		return false, nil
	}
	fmt.Fprintf(p.out, "File %s already exists. Overwrite? [y/N]: ", path)
	resp, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(resp)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
