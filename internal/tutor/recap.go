package tutor

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var recapMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderRecap renders a session summary from Markdown into HTML. Raw HTML in
// the summary is not passed through.
func RenderRecap(summary string) (string, error) {
	var buf bytes.Buffer
	if err := recapMarkdown.Convert([]byte(summary), &buf); err != nil {
		return "", fmt.Errorf("render recap: %w", err)
	}
	return buf.String(), nil
}
