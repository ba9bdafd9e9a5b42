// Package export writes a conversation transcript to a markdown or HTML
// file.
package export

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/yukin371/palaver/internal/core"
)

// Options controls what ends up in the transcript.
type Options struct {
	Title        string
	SystemPrompt string
	// IncludeAll keeps tool requests and results in the transcript;
	// otherwise only display text survives.
	IncludeAll bool
	// Overwrite allows replacing an existing file.
	Overwrite bool
}

// Transcript writes turns to path. The extension picks the format: .md
// for markdown, .html for a standalone HTML page.
func Transcript(path string, turns []*core.Turn, opts Options) error {
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; pass Overwrite to replace it", path)
		}
	}

	var body string
	switch ext := filepath.Ext(path); ext {
	case ".md":
		body = markdown(turns, opts)
	case ".html":
		body = htmlPage(turns, opts)
	default:
		return fmt.Errorf("unsupported export format %q: use .md or .html", ext)
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func markdown(turns []*core.Turn, opts Options) string {
	var sb strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", opts.Title)
	}
	for _, turn := range turns {
		text := turnText(turn, opts.IncludeAll)
		if text == "" || turn.Role == core.RoleSystem {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", roleHeading(turn.Role), text)
	}
	if opts.SystemPrompt != "" {
		fmt.Fprintf(&sb, "---\n\n## System prompt\n\n%s\n", opts.SystemPrompt)
	}
	return sb.String()
}

func htmlPage(turns []*core.Turn, opts Options) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if opts.Title != "" {
		fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(opts.Title))
	}
	sb.WriteString("</head>\n<body>\n")
	if opts.Title != "" {
		fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(opts.Title))
	}
	for _, turn := range turns {
		text := turnText(turn, opts.IncludeAll)
		if text == "" || turn.Role == core.RoleSystem {
			continue
		}
		fmt.Fprintf(&sb, "<h2>%s</h2>\n<p>%s</p>\n",
			roleHeading(turn.Role),
			strings.ReplaceAll(html.EscapeString(text), "\n", "<br>\n"))
	}
	if opts.SystemPrompt != "" {
		fmt.Fprintf(&sb, "<hr>\n<h2>System prompt</h2>\n<p>%s</p>\n",
			strings.ReplaceAll(html.EscapeString(opts.SystemPrompt), "\n", "<br>\n"))
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func roleHeading(role core.Role) string {
	s := string(role)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func turnText(turn *core.Turn, includeAll bool) string {
	if includeAll {
		return turn.String()
	}
	var parts []string
	for _, content := range turn.Contents {
		switch content.(type) {
		case core.Text, core.JSON:
			parts = append(parts, content.String())
		}
	}
	return strings.Join(parts, "\n\n")
}
