// Package markdown renders article markdown to HTML for display and export.
package markdown

import (
	"bytes"
	stdhtml "html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var renderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// ToHTML converts markdown source to an HTML fragment. Raw HTML in the
// source is omitted.
func ToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Document wraps a rendered fragment in a minimal standalone page
func Document(title, body string) string {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html lang=\"zh-CN\">\n<head>\n<meta charset=\"utf-8\">\n<title>")
	buf.WriteString(stdhtml.EscapeString(title))
	buf.WriteString("</title>\n</head>\n<body>\n<article>\n")
	buf.WriteString(body)
	buf.WriteString("</article>\n</body>\n</html>\n")
	return buf.String()
}
