package cli

import "github.com/charmbracelet/lipgloss"

// Theme holds the color scheme for the chat display.
type Theme struct {
	Status    lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	Tool      lipgloss.Color
	TabBg     lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:    lipgloss.Color("#5FAFD7"), // light blue
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	User:      lipgloss.Color("#D7AF5F"), // amber
	Assistant: lipgloss.Color("#AF87FF"), // lavender
	Tool:      lipgloss.Color("#5F87AF"), // steel
	TabBg:     lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) roleStyle(assistant bool) lipgloss.Style {
	if assistant {
		return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) tabStyle(active bool) lipgloss.Style {
	s := lipgloss.NewStyle().Padding(0, 1)
	if active {
		return s.Background(t.Status).Foreground(lipgloss.Color("#000000")).Bold(true)
	}
	return s.Background(t.TabBg)
}

func (t Theme) cardStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Tool).
		Padding(0, 1)
}
