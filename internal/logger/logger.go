package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

// L is the process-wide logger. The server logs JSON to stdout; the terminal
// client switches it to text on stderr so logs never mix with the chat.
var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// Format selects the slog handler used by Init.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Init replaces L with a logger writing to w in the given format. The level
// stays controlled by SetLevel.
func Init(w io.Writer, format Format) {
	opts := &slog.HandlerOptions{Level: levelVar}
	if format == FormatText {
		L = slog.New(slog.NewTextHandler(w, opts))
		return
	}
	L = slog.New(slog.NewJSONHandler(w, opts))
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Level returns the current global level.
func Level() slog.Level { return levelVar.Level() }
