// Package cli is the terminal chat client: a read-eval-print loop with a few
// slash commands on top of a chat.Session.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/logger"
)

const helpText = `Available Commands:
/exit          - Exit the chat
/clear         - Clear chat history
/help          - Show this help message
/save [file]   - Save conversation to file
/load [file]   - Load conversation from file`

const welcomeText = "Type '/help' to see available commands."

// Options configure a REPL.
type Options struct {
	// HistoryFile is used by /save and /load when no file is given.
	HistoryFile string
	// Width is the terminal width used for framing; detected when zero.
	Width int
	// Spinner shows progress while waiting for a reply.
	Spinner bool
	// ClearScreen clears the terminal on /clear and /load.
	ClearScreen bool
}

// REPL runs the interactive chat loop.
type REPL struct {
	session *chat.Session
	in      LineReader
	out     io.Writer
	opts    Options
	render  *renderer
}

// New creates a REPL reading from in and writing to out.
func New(session *chat.Session, in LineReader, out io.Writer, opts Options) *REPL {
	if opts.HistoryFile == "" {
		opts.HistoryFile = "chat_history.json"
	}
	if opts.Width <= 0 {
		opts.Width = TerminalWidth()
	}
	return &REPL{
		session: session,
		in:      in,
		out:     out,
		opts:    opts,
		render:  newRenderer(opts.Width),
	}
}

// Run loops until /exit, end of input, or Ctrl+C at the prompt.
func (r *REPL) Run(ctx context.Context) error {
	r.welcome(ctx)

	for {
		input, err := r.in.Prompt(promptStyle.Render(themes[history.RoleUser].prefix))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				r.goodbye()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if exit := r.handleCommand(ctx, input); exit {
				return nil
			}
			continue
		}

		r.ask(ctx, input)
	}
}

// handleCommand runs a slash command and reports whether the loop should end.
func (r *REPL) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/exit", "/quit":
		r.goodbye()
		return true
	case "/clear":
		if err := r.session.Clear(); err != nil {
			r.system(ctx, "❌ "+err.Error())
			return false
		}
		r.clearScreen()
		r.welcome(ctx)
	case "/help":
		r.system(ctx, helpText)
	case "/save":
		r.save(ctx, r.fileOr(arg))
	case "/load":
		r.load(ctx, r.fileOr(arg))
	default:
		r.system(ctx, fmt.Sprintf("Unknown command %s. Type '/help' to see available commands.", fields[0]))
	}
	return false
}

func (r *REPL) fileOr(arg string) string {
	if arg != "" {
		return arg
	}
	return r.opts.HistoryFile
}

// ask sends input to the model. Ctrl+C while waiting cancels the request.
func (r *REPL) ask(ctx context.Context, input string) {
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var spin *dots
	if r.opts.Spinner {
		spin = startSpinner(r.out, spinnerStyle)
	}
	msg, err := r.session.Reply(reqCtx, input)
	if spin != nil {
		spin.Stop()
	}

	if err != nil {
		logger.L.Debug("ask failed", "error", err)
		r.show(r.failureTurn(err))
		return
	}
	r.show(msg)
}

// failureTurn returns the failure marker the session recorded for err, so the
// live view matches a later replay. Without one it builds an unrecorded turn.
func (r *REPL) failureTurn(err error) history.Message {
	content := "Error: " + err.Error()
	msgs := r.session.History()
	if n := len(msgs); n > 0 && msgs[n-1].Failed() && msgs[n-1].Content == content {
		return msgs[n-1]
	}
	return history.Message{
		Role:      history.RoleSystem,
		Content:   content,
		Timestamp: time.Now().Format(history.TimestampLayout),
		Status:    history.StatusFailed,
	}
}

func (r *REPL) save(ctx context.Context, path string) {
	if err := r.session.Save(path); err != nil {
		r.system(ctx, "❌ "+err.Error())
		return
	}
	r.system(ctx, "✅ Conversation saved to "+path)
}

func (r *REPL) load(ctx context.Context, path string) {
	err := r.session.Load(path)
	switch {
	case errors.Is(err, history.ErrNotFound):
		r.system(ctx, "❌ No saved conversation found")
		return
	case err != nil:
		r.system(ctx, "❌ "+err.Error())
		return
	}

	r.clearScreen()
	for _, msg := range r.session.History() {
		r.show(msg)
	}
	r.system(ctx, "✅ Conversation loaded from "+path)
}

func (r *REPL) welcome(ctx context.Context) {
	r.system(ctx, welcomeText)
}

func (r *REPL) goodbye() {
	fmt.Fprintln(r.out, goodbyeStyle.Render("\n 👋"))
}

// system records a system turn and shows it.
func (r *REPL) system(ctx context.Context, content string) {
	r.show(r.session.Note(ctx, history.RoleSystem, content))
}

func (r *REPL) show(msg history.Message) {
	fmt.Fprint(r.out, r.render.render(msg))
}

func (r *REPL) clearScreen() {
	if !r.opts.ClearScreen {
		return
	}
	termenv.NewOutput(r.out).ClearScreen()
}
