package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy  = lipgloss.Color("#1B2A4A")
	ColorWhite = lipgloss.Color("#F5F5F5")
	ColorGray  = lipgloss.Color("245")
	ColorBlue  = lipgloss.Color("39")
	ColorGreen = lipgloss.Color("#49E209")
	ColorRed   = lipgloss.Color("196")
	ColorAmber = lipgloss.Color("214")

	titleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorNavy).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(ColorGray)
	valueStyle = lipgloss.NewStyle().Foreground(ColorWhite).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6666"))

	statusStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)
)

// kindColor picks a bar color for an event type.
func kindColor(kind string) lipgloss.Color {
	switch kind {
	case "log_error":
		return ColorRed
	case "log_entry":
		return ColorBlue
	case "startup":
		return ColorGreen
	default:
		return ColorAmber
	}
}

// renderBranding renders the product name with a green to blue gradient.
func renderBranding() string {
	colors := []string{"#49E209", "#35DD2F", "#21D955", "#0DD47B", "#00D0A1", "#00CAC7"}
	word := []rune("NetworkBuster")
	var out string
	for i, r := range word {
		c := colors[i*len(colors)/len(word)]
		out += lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(lipgloss.Color(c)).
			Bold(true).
			Render(string(r))
	}
	return out
}
