// Package theme holds the lipgloss styles shared by the terminal views.
// Colors are adaptive so the same palette reads on light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is honored by lipgloss's color profile
// detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"isaac-client/internal/domain"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	ColorBorder = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBgAlt  = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim  = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
)

// Symbols default to Unicode and are swapped for ASCII by InitSymbols.
var (
	SymbolOpen       = "●"
	SymbolConnecting = "◌"
	SymbolClosed     = "○"
	SymbolIdle       = "·"
	SymbolFrame      = "▣"
	SymbolDropped    = "▢"
	SymbolError      = "✗"
	SymbolBullet     = "•"
	SymbolEllipsis   = "…"
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

var (
	Header = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)

	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	StatValue = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	StatLabel = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// State renders a connection state with its symbol and color.
func State(s domain.ConnectionState) string {
	switch s {
	case domain.StateOpen:
		return TextSuccess.Render(SymbolOpen + " " + s.String())
	case domain.StateConnecting:
		return TextWarning.Render(SymbolConnecting + " " + s.String())
	case domain.StateClosed:
		return TextError.Render(SymbolClosed + " " + s.String())
	default:
		return TextMuted.Render(SymbolIdle + " " + s.String())
	}
}

// Clamp returns v clamped to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
