package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ade80"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#facc15"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171")).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280")).MarginTop(1)
)
