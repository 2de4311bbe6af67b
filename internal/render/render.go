// Package render turns markdown produced by users and tools into the HTML
// stored in message titles and bodies.
package render

import (
	"bytes"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to sanitized HTML. It is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	strict *bluemonday.Policy
	logger *slog.Logger
}

// New creates a Renderer with GFM enabled. Fully qualified links are rewritten
// to open in a new browsing context.
func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	policy := bluemonday.UGCPolicy()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.AllowAttrs("open").OnElements("details")
	policy.AllowElements("details", "summary")

	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		policy: policy,
		strict: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Markdown renders src to sanitized HTML. Unclosed code fences are closed first.
func (r *Renderer) Markdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(CompleteCodeBlocks(src)), &buf); err != nil {
		r.logger.Warn("markdown conversion failed, escaping raw text", "err", err)
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return r.policy.Sanitize(buf.String())
}

// Plain strips all markup and returns readable text, for terminals and logs.
func (r *Renderer) Plain(htmlSrc string) string {
	text := r.strict.Sanitize(htmlSrc)
	text = html.UnescapeString(text)
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// CompleteCodeBlocks appends a closing fence when text ends inside a ``` block.
func CompleteCodeBlocks(text string) string {
	const fence = "```"
	if text == "" {
		return text
	}
	parts := strings.Split(text, fence)
	if len(parts) > 1 && len(parts)%2 == 0 {
		text += "\n" + fence
	}
	return text
}
