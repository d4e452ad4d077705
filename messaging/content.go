// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

// markdown returns the shared converter. Raw HTML in the source is
// not passed through (goldmark's default), so a message body cannot
// inject markup the sender did not write as markdown.
func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdownInstance
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: MsgTypeText,
		Body:    body,
	}
}

// NewMarkdownMessage creates an m.text message whose formatted_body is
// the HTML rendering of body. Bodies without any markdown markup
// produce a plain message, so ordinary chat lines stay unformatted on
// the wire.
func NewMarkdownMessage(body string) MessageContent {
	content := NewTextMessage(body)

	source := []byte(body)
	document := markdown().Parser().Parse(text.NewReader(source))
	if !hasMarkup(document) {
		return content
	}

	var rendered bytes.Buffer
	if err := markdown().Renderer().Render(&rendered, source, document); err != nil {
		return content
	}
	content.Format = FormatHTML
	content.FormattedBody = strings.TrimSpace(rendered.String())
	return content
}

// NewImageMessage creates an m.image message referencing url, which
// may be an mxc:// URI or an external https URL (GIF search results).
// Width and height of zero are omitted.
func NewImageMessage(url, title, mimeType string, width, height int) MessageContent {
	return MessageContent{
		MsgType: MsgTypeImage,
		Body:    title,
		URL:     url,
		Info: &ImageInfo{
			MimeType: mimeType,
			Width:    width,
			Height:   height,
		},
	}
}

// hasMarkup reports whether the parsed document contains anything
// beyond paragraphs of plain text.
func hasMarkup(document ast.Node) bool {
	found := false
	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node.Kind() {
		case ast.KindDocument, ast.KindParagraph, ast.KindText:
			return ast.WalkContinue, nil
		default:
			found = true
			return ast.WalkStop, nil
		}
	})
	return found
}
