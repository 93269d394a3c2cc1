package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/comigor/parley/internal/history"
)

// theme is how one role is drawn.
type theme struct {
	color  lipgloss.Color
	prefix string
}

var themes = map[history.Role]theme{
	history.RoleUser:      {color: lipgloss.Color("14"), prefix: "> "},
	history.RoleAssistant: {color: lipgloss.Color("12"), prefix: "< "},
	history.RoleSystem:    {color: lipgloss.Color("15"), prefix: "# "},
}

var (
	promptStyle  = lipgloss.NewStyle().Foreground(themes[history.RoleUser].color).Bold(true)
	failureColor = lipgloss.Color("9")
	goodbyeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	spinnerStyle = lipgloss.NewStyle().Foreground(themes[history.RoleAssistant].color)
)

func themeFor(msg history.Message) theme {
	t, ok := themes[msg.Role]
	if !ok {
		t = themes[history.RoleSystem]
	}
	if msg.Failed() {
		t.color = failureColor
	}
	return t
}

func roleLabel(r history.Role) string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// renderer turns messages into terminal output.
type renderer struct {
	width    int
	markdown *glamour.TermRenderer
}

func newRenderer(width int) *renderer {
	r := &renderer{width: width}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

// render draws msg: assistant replies as markdown under a header line, other
// roles framed in a box.
func (r *renderer) render(msg history.Message) string {
	t := themeFor(msg)
	header := fmt.Sprintf("%s %s (%s)", t.prefix, roleLabel(msg.Role), msg.Timestamp)
	headerStyle := lipgloss.NewStyle().Foreground(t.color).Bold(true)

	if msg.Role == history.RoleAssistant {
		return "\n" + headerStyle.Render(header) + "\n" + r.renderMarkdown(msg.Content) + "\n"
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.color).
		Foreground(t.color).
		Padding(0, 1).
		Width(r.width - 4)
	return headerStyle.Render(header) + "\n" + box.Render(strings.TrimRight(msg.Content, "\n")) + "\n"
}

func (r *renderer) renderMarkdown(content string) string {
	if r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
