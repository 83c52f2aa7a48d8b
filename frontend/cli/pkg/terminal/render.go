package terminal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	resultStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))
)

// Banner renders the framed welcome panel.
func Banner(title, subtitle string) string {
	content := titleStyle.Render(title) + "\n" + subtitle
	return bannerStyle.Render(content)
}

// Prompt renders the input prompt label.
func Prompt(label string) string {
	return promptStyle.Render(label) + " "
}

// Status renders a transient status line.
func Status(text string) string {
	return statusStyle.Render(text)
}

// ResultPanel renders markdown content inside a framed panel.
func ResultPanel(title, markdown string, width int) string {
	rendered := FormatMarkdown(markdown, width)
	content := titleStyle.Render(title) + "\n\n" + rendered
	return resultStyle.Render(content)
}

func FormatMarkdown(content string, width int) string {
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"), // avoid OSC background queries
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	out, err := md.Render(content)
	if err != nil {
		return content
	}
	return trimTrailingWhitespaceWithANSI(trimLeadingWhitespaceWithANSI(out))
}

var (
	leadingANSIWhitespace  = regexp.MustCompile(`^(?:\x1b\[[0-9;]*m|\s)*`)
	trailingANSIWhitespace = regexp.MustCompile(`(?:\x1b\[[0-9;]*m|\s)*$`)
)

func trimLeadingWhitespaceWithANSI(s string) string {
	return leadingANSIWhitespace.ReplaceAllString(s, "")
}

func trimTrailingWhitespaceWithANSI(s string) string {
	return trailingANSIWhitespace.ReplaceAllString(s, "")
}

// Usage formats a one-line token usage summary.
func Usage(prompt, completion, total int64) string {
	return statusStyle.Render(fmt.Sprintf("tokens: %d prompt / %d completion / %d total", prompt, completion, total))
}

// Truncate shortens a string for status lines.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "…"
}
