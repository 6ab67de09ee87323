// Package tui implements the bubbletea progress monitor: a pure observer
// of the event bus's Stats/Log stream (per the single-writer discipline,
// it never feeds back into the fuzzing loop). The palette and panel
// styles are cosmetic and domain-independent; the dashboard model itself
// is built around corpus/solutions/exec-rate fields.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorRed     = lipgloss.Color("#FF0055")

	ColorHeaderBg = lipgloss.Color("#16213E")
	ColorText     = lipgloss.Color("#E0E0E0")
	ColorDimText  = lipgloss.Color("#666666")
	ColorBright   = lipgloss.Color("#FFFFFF")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan).
			Background(ColorHeaderBg).
			Padding(0, 1).
			MarginBottom(1)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorCyan).
			Padding(1, 2).
			MarginRight(1)

	LogPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGreen).
			Padding(0, 1).
			Height(10)

	LabelStyle = lipgloss.NewStyle().Foreground(ColorDimText).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(ColorBright).Bold(true)

	SolutionStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorYellow)
	InfoStyle     = lipgloss.NewStyle().Foreground(ColorCyan)
	DimStyle      = lipgloss.NewStyle().Foreground(ColorDimText)

	FooterStyle = lipgloss.NewStyle().Foreground(ColorDimText).MarginTop(1)
	KeyStyle    = lipgloss.NewStyle().Foreground(ColorCyan).Bold(true)

	SpinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

const Banner = `┌─ corefuzz ────────────────────────────────────────────────────┐`

func renderLabelValue(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value)
}

func renderKeyHelp(key, desc string) string {
	return KeyStyle.Render("["+key+"]") + " " + DimStyle.Render(desc)
}
