package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	greenColor = lipgloss.Color("#10B981")
	redColor   = lipgloss.Color("#EF4444")
	mutedColor = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	cellStyle   = lipgloss.NewStyle().Width(18)
	wideStyle   = lipgloss.NewStyle().Width(34)
	nameStyle   = lipgloss.NewStyle().Width(6).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	okStyle     = lipgloss.NewStyle().Foreground(greenColor)
	failStyle   = lipgloss.NewStyle().Foreground(redColor).Bold(true)
)
