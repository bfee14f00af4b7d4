package ui

import (
	"github.com/charmbracelet/glamour"
)

// maxReadableWidth caps word wrap for issue descriptions and notes.
const maxReadableWidth = 100

// RenderMarkdown renders Redmine description or journal text with glamour.
// Returns the original text if rendering fails or colors are off.
func RenderMarkdown(markdown string) string {
	if IsAgentMode() || !ShouldUseColor() {
		return markdown
	}

	wrapWidth := TerminalWidth(80)
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
