package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModeStyled renders with colors and borders.
	ModeStyled OutputMode = iota

	// ModePlain uses plain text output.
	ModePlain

	// ModeJSON uses JSON structured output.
	ModeJSON
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModeStyled:
		return "styled"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	fd        int
}

// NewDetector creates a detector for stdout.
func NewDetector() *Detector {
	return &Detector{fd: int(os.Stdout.Fd())}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}

	if os.Getenv("UPGRADER_OUTPUT") == "json" {
		return ModeJSON
	}

	if os.Getenv("CI") != "" || !d.ShouldUseColor() {
		return ModePlain
	}
	return ModeStyled
}

// IsInteractive reports whether stdin and stdout are terminals, so prompts
// can be shown.
func (d *Detector) IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(d.fd)
}

// ShouldUseColor determines if color should be used.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor {
		return false
	}

	// Check NO_COLOR convention
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	if os.Getenv("TERM") == "dumb" {
		return false
	}

	return term.IsTerminal(d.fd)
}

// TerminalWidth returns the width of stdout, 80 when unknown.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// ParseOutputMode parses an output mode from string.
func ParseOutputMode(s string) OutputMode {
	switch s {
	case "plain":
		return ModePlain
	case "json":
		return ModeJSON
	default:
		return ModeStyled
	}
}
