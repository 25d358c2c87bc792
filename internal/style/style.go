// Package style renders the end-of-run summary with Lipgloss.
package style

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ryabkov82/comfy-batch/internal/job"
)

var (
	colorPass  = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn  = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail  = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✖"
)

var (
	Success = colored(colorPass, true)
	Warning = colored(colorWarn, true)
	Error   = colored(colorFail, true)
	Dim     = colored(colorMuted, false)
	Bold    = lipgloss.NewStyle().Bold(true)
)

func colored(c lipgloss.AdaptiveColor, bold bool) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(bold)
}

// SetColorMode applies the --color flag: "never", "always" or "auto".
// Auto leaves Lipgloss to detect the terminal and NO_COLOR.
func SetColorMode(mode string) error {
	switch mode {
	case "never":
		_ = os.Setenv("NO_COLOR", "1")
		Success, Warning, Error = lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
		Dim, Bold = lipgloss.NewStyle(), lipgloss.NewStyle()
	case "always":
		_ = os.Unsetenv("NO_COLOR")
		_ = os.Setenv("CLICOLOR_FORCE", "1")
		Success = colored(colorPass, true)
		Warning = colored(colorWarn, true)
		Error = colored(colorFail, true)
		Dim = colored(colorMuted, false)
		Bold = lipgloss.NewStyle().Bold(true)
	case "auto", "":
	default:
		return fmt.Errorf("invalid color mode %q (want auto, always or never)", mode)
	}
	return nil
}

// Summary renders the final tally line, e.g.
// "✓ Done. Total: 4, Completed: 3, Failed: 1 (timed out: 1)".
func Summary(t job.Tally, interrupted bool) string {
	icon, head := IconPass, Success.Render("Done.")
	switch {
	case interrupted:
		icon, head = IconWarn, Warning.Render("Interrupted.")
	case t.Failed > 0 && t.Completed == 0 && t.TotalUnits > 0:
		icon, head = IconFail, Error.Render("Done.")
	case t.Failed > 0:
		icon, head = IconWarn, Warning.Render("Done.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s Total: %s, Completed: %s, Failed: %s",
		icon, head,
		Bold.Render(fmt.Sprint(t.TotalUnits)),
		Success.Render(fmt.Sprint(t.Completed)),
		failedStyle(t).Render(fmt.Sprint(t.Failed)),
	)
	if t.TimedOut > 0 {
		b.WriteString(Dim.Render(fmt.Sprintf(" (timed out: %d)", t.TimedOut)))
	}
	if p := t.Pending(); p > 0 {
		b.WriteString(Dim.Render(fmt.Sprintf(" (not run: %d)", p)))
	}
	return b.String()
}

func failedStyle(t job.Tally) lipgloss.Style {
	if t.Failed > 0 {
		return Error
	}
	return Dim
}
