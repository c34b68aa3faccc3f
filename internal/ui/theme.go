package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lotview/lotview/internal/parking"
)

// Theme defines the color palette for the dashboard. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Slot status colors.
	StatusFree     lipgloss.Color
	StatusOccupied lipgloss.Color
	StatusReserved lipgloss.Color

	// Cursor cell.
	CursorBorder lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Connection badges.
	LiveBadge    lipgloss.Color
	OfflineBadge lipgloss.Color

	// Notices in the status bar.
	NoticeText lipgloss.Color
	ErrorText  lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("243"),

	StatusFree:     lipgloss.Color("42"),
	StatusOccupied: lipgloss.Color("160"),
	StatusReserved: lipgloss.Color("214"),

	CursorBorder: lipgloss.Color("75"),

	HeaderForeground: lipgloss.Color("231"),
	HeaderBackground: lipgloss.Color("25"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("243"),

	LiveBadge:    lipgloss.Color("42"),
	OfflineBadge: lipgloss.Color("160"),

	NoticeText: lipgloss.Color("214"),
	ErrorText:  lipgloss.Color("196"),
}

// StatusColor returns the color for a slot status. Unknown values get
// FaintText.
func (theme Theme) StatusColor(status parking.SlotStatus) lipgloss.Color {
	switch status {
	case parking.SlotFree:
		return theme.StatusFree
	case parking.SlotOccupied:
		return theme.StatusOccupied
	case parking.SlotReserved:
		return theme.StatusReserved
	default:
		return theme.FaintText
	}
}
