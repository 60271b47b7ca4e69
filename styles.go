package main

import "github.com/charmbracelet/lipgloss"

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)
