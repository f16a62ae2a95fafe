package theme

import (
	"os"
	"strings"

	"isaac-client/internal/domain"
)

// SymbolSet holds the glyphs used by the views.
type SymbolSet struct {
	Open       string
	Connecting string
	Closed     string
	Idle       string
	Frame      string
	Dropped    string
	Error      string
	Bullet     string
	Ellipsis   string
}

var unicodeSymbols = SymbolSet{
	Open:       "●",
	Connecting: "◌",
	Closed:     "○",
	Idle:       "·",
	Frame:      "▣",
	Dropped:    "▢",
	Error:      "✗",
	Bullet:     "•",
	Ellipsis:   "…",
}

var asciiSymbols = SymbolSet{
	Open:       "[*]",
	Connecting: "[~]",
	Closed:     "[ ]",
	Idle:       "-",
	Frame:      "#",
	Dropped:    "x",
	Error:      "[ERR]",
	Bullet:     "*",
	Ellipsis:   "...",
}

// DetectUnicodeSupport reports whether the terminal likely renders Unicode.
// ISAAC_ASCII_SYMBOLS=1 forces ASCII; so does a dumb or Linux console
// terminal without a UTF-8 locale.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("ISAAC_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	switch os.Getenv("TERM") {
	case "dumb", "linux", "vt100":
		return false
	}
	return true
}

// Symbols returns the set matching the terminal.
func Symbols() SymbolSet {
	if DetectUnicodeSupport() {
		return unicodeSymbols
	}
	return asciiSymbols
}

// InitSymbols sets the Symbol* variables from terminal capabilities.
func InitSymbols() {
	set := Symbols()
	SymbolOpen = set.Open
	SymbolConnecting = set.Connecting
	SymbolClosed = set.Closed
	SymbolIdle = set.Idle
	SymbolFrame = set.Frame
	SymbolDropped = set.Dropped
	SymbolError = set.Error
	SymbolBullet = set.Bullet
	SymbolEllipsis = set.Ellipsis
}

// EventSymbol returns the glyph shown before an event line.
func EventSymbol(t domain.EventType) string {
	switch t {
	case domain.EventConnectionOpened:
		return SymbolOpen
	case domain.EventConnectionOpening, domain.EventReconnectScheduled:
		return SymbolConnecting
	case domain.EventConnectionClosed:
		return SymbolClosed
	case domain.EventFrameDelivered:
		return SymbolFrame
	case domain.EventFrameDropped, domain.EventFrameStale:
		return SymbolDropped
	case domain.EventConnectionError, domain.EventReconnectGaveUp:
		return SymbolError
	default:
		return SymbolIdle
	}
}

func init() {
	InitSymbols()
}
