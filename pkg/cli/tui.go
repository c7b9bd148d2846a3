// Package cli provides terminal UI components for CLI applications.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for the TUI.
type Theme struct {
	Primary lipgloss.Color // Accent color for borders and labels
	Dim     lipgloss.Color // Help and status text
	Alert   lipgloss.Color // Error highlights
}

// DefaultTheme is the default cyan theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#2dd4bf"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#f85149"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	Alert  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Alert:  lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
	}
}

// Section is one labeled region of the frame. Content is called at render
// time so sections can show live data.
type Section struct {
	Label   string
	Content func() []string
}

// Frame renders a bordered dashboard: a title bar with a status tag,
// labeled sections split evenly over the remaining height, and a help
// line underneath.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render draws the frame into a width x height cell and returns it as a
// string. A zero dimension yields a placeholder so callers can render
// before the first terminal size is known.
func (f Frame) Render(width, height int) string {
	if width == 0 || height == 0 {
		return "Loading..."
	}

	border := f.Styles.Border
	inner := width - 4

	var b strings.Builder
	writeLine := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}

	writeLine(border.Render("╭" + strings.Repeat("─", width-2) + "╮"))

	// Title bar: the status tag is right-padded into the remaining space.
	title := f.Styles.Title.Render(f.Title)
	status := f.Styles.Help.Render("[" + f.Status + "]")
	gap := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	writeLine(border.Render("│") + " " + title + " " + status +
		strings.Repeat(" ", gap) + " " + border.Render("│"))
	writeLine(border.Render("│") + strings.Repeat(" ", width-2) + border.Render("│"))

	// Chrome rows: top border, title, spacer, one label row per section,
	// bottom border, help line.
	n := max(len(f.Sections), 1)
	rows := max((height-5-n)/n, 2)

	for _, sec := range f.Sections {
		f.writeSection(&b, sec.Label, sec.Content(), rows, width, inner)
	}

	writeLine(border.Render("╰" + strings.Repeat("─", width-2) + "╯"))
	b.WriteString(f.Styles.Help.Render(f.Help))
	return b.String()
}

// writeSection emits the label separator followed by the newest rows of
// content, padded to fill the section height.
func (f Frame) writeSection(b *strings.Builder, label string, content []string, rows, width, inner int) {
	border := f.Styles.Border

	labelText := f.Styles.Label.Render(label)
	fill := max(0, width-3-lipgloss.Width(labelText))
	b.WriteString(border.Render("├─") + labelText + border.Render(strings.Repeat("─", fill)+"┤"))
	b.WriteByte('\n')

	start := max(0, len(content)-rows)
	for i := 0; i < rows; i++ {
		text := ""
		if idx := start + i; idx < len(content) {
			text = content[idx]
		}
		if inner > 1 && lipgloss.Width(text) > inner {
			text = clipWidth(text, inner-1) + "…"
		}
		b.WriteString(border.Render("│") + " " + text +
			strings.Repeat(" ", max(0, inner-lipgloss.Width(text))) + " " + border.Render("│"))
		b.WriteByte('\n')
	}
}

// clipWidth truncates s to the given display width, respecting wide
// runes.
func clipWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	used := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if used+w > width {
			return string(runes[:i])
		}
		used += w
	}
	return s
}
