package watch

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981") // Green
	amberColor   = lipgloss.Color("#F59E0B") // Amber
	grayColor    = lipgloss.Color("#9CA3AF") // Gray
	redColor     = lipgloss.Color("#F87171") // Red
	borderColor  = lipgloss.Color("#6B7280") // Gray border
	textColor    = lipgloss.Color("#F9FAFB") // Light text

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(grayColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(redColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(grayColor).
			MarginTop(1)

	statusStyles = map[string]lipgloss.Style{
		"pending":   lipgloss.NewStyle().Foreground(grayColor),
		"active":    lipgloss.NewStyle().Foreground(greenColor),
		"completed": lipgloss.NewStyle().Foreground(primaryColor),
		"abandoned": lipgloss.NewStyle().Foreground(amberColor),
	}

	barFilledStyle = lipgloss.NewStyle().Foreground(greenColor)
	barEmptyStyle  = lipgloss.NewStyle().Foreground(borderColor)
)

// statusStyle returns the style for a range status, falling back to muted.
func statusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return mutedStyle
}
