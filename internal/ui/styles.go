// Package ui provides terminal styling for rd CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	// Drafts are shown in purple so they never read as server state.
	ColorDraft  = lipgloss.AdaptiveColor{Light: "#a37acc", Dark: "#d2a6ff"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	DraftStyle  = lipgloss.NewStyle().Foreground(ColorDraft)

	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	BadgeStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorDraft).Padding(0, 1)
)

const (
	IconPass  = "✓"
	IconWarn  = "⚠"
	IconFail  = "✗"
	IconSkip  = "-"
	IconDraft = "✎"
)

const (
	TreeLast   = "└─ "
	TreeIndent = "  "
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string { return PassStyle.Render(s) }
func RenderWarn(s string) string { return WarnStyle.Render(s) }
func RenderFail(s string) string { return FailStyle.Render(s) }
func RenderMuted(s string) string { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderDraft(s string) string { return DraftStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderDraftBadge renders the "DRAFT MODE" marker shown while edits are
// being queued instead of sent.
func RenderDraftBadge() string {
	label := "DRAFT MODE"
	if ShouldUseEmoji() {
		label = IconDraft + " " + label
	}
	return BadgeStyle.Render(label)
}

// RenderOutcome renders an apply outcome icon: pass, fail, or skip.
func RenderOutcome(ok, skipped bool) string {
	switch {
	case skipped:
		return MutedStyle.Render(IconSkip)
	case ok:
		return PassStyle.Render(IconPass)
	default:
		return FailStyle.Render(IconFail)
	}
}
