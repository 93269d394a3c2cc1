package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is the fallback width when detection fails
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the minimum width we'll use for wrapping
	MinTerminalWidth = 40
)

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the current terminal width.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// PromptSecret asks for a value without echoing it, e.g. an API key.
func PromptSecret(out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// LineReader reads one line of user input per call. Implementations return
// io.EOF when input ends.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linerReader provides line editing and arrow-key history on a terminal.
type linerReader struct {
	line *liner.State
}

// NewLinerReader returns a LineReader backed by peterh/liner. Ctrl+C at the
// prompt aborts with liner.ErrPromptAborted.
func NewLinerReader() LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &linerReader{line: line}
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *linerReader) Close() error { return r.line.Close() }

// scanReader reads lines from a plain stream, for pipes and tests.
type scanReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

// NewScanReader returns a LineReader over in, echoing prompts to out.
func NewScanReader(in io.Reader, out io.Writer) LineReader {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{sc: sc, out: out}
}

func (r *scanReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

func (r *scanReader) Close() error { return nil }
