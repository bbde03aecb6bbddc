package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E3B341"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func newFormatter(opts *RootOptions, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w}
}

// Emit writes v as indented JSON, or calls text in text mode.
func (f *OutputFormatter) Emit(v any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(f.Writer)
	return nil
}

func check(w io.Writer, ok bool, format string, args ...any) {
	mark := okStyle.Render("✓")
	if !ok {
		mark = errStyle.Render("✗")
	}
	fmt.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// row pads each cell to its column width
func row(widths []int, cells ...string) string {
	out := ""
	for i, cell := range cells {
		if i < len(widths) {
			cell = lipgloss.NewStyle().Width(widths[i]).Render(cell)
		}
		out += cell
	}
	return out
}
