package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	ActionStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	DangerActionStyle = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// Step status styles
var statusStyles = map[core.StepStatus]lipgloss.Style{
	core.StepPending:            lipgloss.NewStyle().Foreground(ColorTextMuted),
	core.StepActive:             lipgloss.NewStyle().Foreground(ColorInfo).Bold(true),
	core.StepComplete:           lipgloss.NewStyle().Foreground(ColorSuccess),
	core.StepError:              lipgloss.NewStyle().Foreground(ColorError).Bold(true),
	core.StepSkipped:            lipgloss.NewStyle().Foreground(ColorTextMuted).Italic(true),
	core.StepCancelled:          lipgloss.NewStyle().Foreground(ColorWarning),
	core.StepUserActionRequired: lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
}

var statusIcons = map[core.StepStatus]string{
	core.StepPending:            "○",
	core.StepActive:             "◐",
	core.StepComplete:           "✓",
	core.StepError:              "✗",
	core.StepSkipped:            "↷",
	core.StepCancelled:          "■",
	core.StepUserActionRequired: "!",
}

// StatusIcon returns the one-rune badge of a step status.
func StatusIcon(status core.StepStatus) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}
	return "?"
}

// StatusStyle returns the style of a step status.
func StatusStyle(status core.StepStatus) lipgloss.Style {
	if style, ok := statusStyles[status]; ok {
		return style
	}
	return lipgloss.NewStyle()
}
