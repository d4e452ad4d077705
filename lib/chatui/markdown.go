// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdownParserInstance goldmark.Markdown
	markdownParserOnce     sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParserInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.Strikethrough,
				extension.Linkify,
			),
		)
	})
	return markdownParserInstance
}

// wrapBreakpoints are the characters besides spaces at which long lines
// may be broken.
const wrapBreakpoints = " ,.;-+|"

// renderMarkdown renders a message body as styled terminal text wrapped
// to width. Unlike document markdown, a single newline in a chat
// message is kept as a line break.
func renderMarkdown(input string, theme Theme, width int, lipRenderer *lipgloss.Renderer) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	renderer := &markdownRenderer{
		source:      source,
		theme:       theme,
		width:       width,
		lipRenderer: lipRenderer,
	}
	ast.Walk(document, renderer.walk)
	return strings.TrimRight(renderer.output.String(), "\n")
}

// markdownRenderer walks a goldmark AST. Inline content of a block
// accumulates in inline and is wrapped as a unit when the block
// closes.
type markdownRenderer struct {
	source      []byte
	theme       Theme
	width       int
	lipRenderer *lipgloss.Renderer

	output strings.Builder
	inline strings.Builder

	// Prefixes of nested blockquotes and list items.
	prefixes        []string
	linePrefix      string
	linePrefixWidth int

	// pendingBullet replaces linePrefix for the next emitted line.
	pendingBullet string

	boldCount          int
	italicCount        int
	strikethroughCount int

	lists []listState

	trailingNewlines int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (renderer *markdownRenderer) newStyle() lipgloss.Style {
	return renderer.lipRenderer.NewStyle()
}

func (renderer *markdownRenderer) currentWidth() int {
	return max(renderer.width-renderer.linePrefixWidth, 10)
}

func (renderer *markdownRenderer) pushPrefix(prefix string) {
	renderer.prefixes = append(renderer.prefixes, prefix)
	renderer.linePrefix += prefix
	renderer.linePrefixWidth += ansi.StringWidth(prefix)
}

func (renderer *markdownRenderer) popPrefix() {
	if len(renderer.prefixes) == 0 {
		return
	}
	top := renderer.prefixes[len(renderer.prefixes)-1]
	renderer.prefixes = renderer.prefixes[:len(renderer.prefixes)-1]
	renderer.linePrefix = renderer.linePrefix[:len(renderer.linePrefix)-len(top)]
	renderer.linePrefixWidth -= ansi.StringWidth(top)
}

func (renderer *markdownRenderer) inTightList() bool {
	return len(renderer.lists) > 0 && renderer.lists[len(renderer.lists)-1].tight
}

func (renderer *markdownRenderer) writeOutput(s string) {
	if s == "" {
		return
	}
	renderer.output.WriteString(s)
	trimmed := strings.TrimRight(s, "\n")
	newlines := len(s) - len(trimmed)
	if trimmed == "" {
		renderer.trailingNewlines += newlines
	} else {
		renderer.trailingNewlines = newlines
	}
}

func (renderer *markdownRenderer) ensureNewline() {
	if renderer.output.Len() > 0 && renderer.trailingNewlines < 1 {
		renderer.writeOutput("\n")
	}
}

func (renderer *markdownRenderer) ensureBlankLine() {
	if renderer.output.Len() == 0 {
		return
	}
	for renderer.trailingNewlines < 2 {
		renderer.writeOutput("\n")
	}
}

func (renderer *markdownRenderer) consumeLinePrefix() string {
	if renderer.pendingBullet != "" {
		bullet := renderer.pendingBullet
		renderer.pendingBullet = ""
		return bullet
	}
	return renderer.linePrefix
}

func (renderer *markdownRenderer) applyPrefixes(content string) string {
	lines := strings.Split(content, "\n")
	for index, line := range lines {
		if index == 0 {
			lines[index] = renderer.consumeLinePrefix() + line
		} else {
			lines[index] = renderer.linePrefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func (renderer *markdownRenderer) flushInline() string {
	content := renderer.inline.String()
	renderer.inline.Reset()
	if content == "" {
		return ""
	}
	return renderer.applyPrefixes(ansi.Wrap(content, renderer.currentWidth(), wrapBreakpoints))
}

func (renderer *markdownRenderer) styledText(content string) string {
	style := renderer.newStyle().Foreground(renderer.theme.NormalText)
	if renderer.boldCount > 0 {
		style = style.Bold(true)
	}
	if renderer.italicCount > 0 {
		style = style.Italic(true)
	}
	if renderer.strikethroughCount > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

func (renderer *markdownRenderer) faint(content string) string {
	return renderer.newStyle().Foreground(renderer.theme.FaintText).Render(content)
}

// highlightCode highlights code with Chroma. Unknown languages and
// highlighter errors fall back to faint plain text.
func (renderer *markdownRenderer) highlightCode(code, language string) string {
	if language == "" {
		return renderer.faint(code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, "terminal256", "monokai"); err != nil {
		return renderer.faint(code)
	}
	return buffer.String()
}

func (renderer *markdownRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindParagraph, ast.KindTextBlock, ast.KindHeading:
		if entering {
			renderer.inline.Reset()
			if heading, ok := node.(*ast.Heading); ok && heading.Level > 0 {
				renderer.boldCount++
			}
			break
		}
		if _, ok := node.(*ast.Heading); ok {
			renderer.boldCount--
		}
		if flushed := renderer.flushInline(); flushed != "" {
			renderer.writeOutput(flushed)
			renderer.ensureNewline()
			if !renderer.inTightList() {
				renderer.ensureBlankLine()
			}
		}

	case ast.KindFencedCodeBlock:
		if entering {
			block := node.(*ast.FencedCodeBlock)
			renderer.renderCode(renderer.highlightCode(renderer.blockText(block), string(block.Language(renderer.source))))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			renderer.renderCode(renderer.faint(renderer.blockText(node)))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			renderer.pushPrefix(renderer.newStyle().Foreground(renderer.theme.BorderColor).Render("│") + " ")
		} else {
			renderer.popPrefix()
			renderer.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			renderer.lists = append(renderer.lists, listState{ordered: list.IsOrdered(), counter: list.Start, tight: list.IsTight})
		} else {
			renderer.lists = renderer.lists[:len(renderer.lists)-1]
			if !renderer.inTightList() {
				renderer.ensureBlankLine()
			}
		}

	case ast.KindListItem:
		if entering {
			renderer.enterListItem()
		} else {
			renderer.popPrefix()
			renderer.ensureNewline()
		}

	case ast.KindThematicBreak:
		if entering {
			rule := renderer.newStyle().Foreground(renderer.theme.BorderColor).Render(strings.Repeat("─", renderer.currentWidth()))
			renderer.ensureBlankLine()
			renderer.writeOutput(renderer.applyPrefixes(rule))
			renderer.ensureBlankLine()
		}

	case ast.KindHTMLBlock:
		if entering {
			if stripped := strings.TrimSpace(stripHTMLTags(renderer.blockText(node))); stripped != "" {
				renderer.writeOutput(renderer.applyPrefixes(renderer.faint(stripped)))
				renderer.ensureBlankLine()
			}
			return ast.WalkSkipChildren, nil
		}

	case ast.KindText:
		if entering {
			textNode := node.(*ast.Text)
			renderer.inline.WriteString(renderer.styledText(string(textNode.Segment.Value(renderer.source))))
			if textNode.SoftLineBreak() || textNode.HardLineBreak() {
				renderer.inline.WriteString("\n")
			}
		}

	case ast.KindString:
		if entering {
			renderer.inline.WriteString(renderer.styledText(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		counter := &renderer.italicCount
		if node.(*ast.Emphasis).Level >= 2 {
			counter = &renderer.boldCount
		}
		if entering {
			*counter++
		} else {
			*counter--
		}

	case extast.KindStrikethrough:
		if entering {
			renderer.strikethroughCount++
		} else {
			renderer.strikethroughCount--
		}

	case ast.KindCodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				switch child := child.(type) {
				case *ast.Text:
					code.Write(child.Segment.Value(renderer.source))
				case *ast.String:
					code.Write(child.Value)
				}
			}
			renderer.inline.WriteString(renderer.faint(code.String()))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			link := node.(*ast.Link)
			label := renderer.renderInlineContent(link)
			destination := string(link.Destination)
			renderer.inline.WriteString(label)
			if destination != "" && ansi.Strip(label) != destination {
				renderer.inline.WriteString(" " + renderer.faint("("+destination+")"))
			}
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(renderer.source))
			renderer.inline.WriteString(renderer.newStyle().Foreground(renderer.theme.LinkForeground).Underline(true).Render(url))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindImage:
		if entering {
			image := node.(*ast.Image)
			alt := ansi.Strip(renderer.renderInlineContent(image))
			renderer.inline.WriteString(renderer.faint("[" + alt + "] (" + string(image.Destination) + ")"))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			raw := node.(*ast.RawHTML)
			var html strings.Builder
			for index := 0; index < raw.Segments.Len(); index++ {
				segment := raw.Segments.At(index)
				html.Write(segment.Value(renderer.source))
			}
			if stripped := stripHTMLTags(html.String()); stripped != "" {
				renderer.inline.WriteString(renderer.faint(stripped))
			}
		}
	}
	return ast.WalkContinue, nil
}

// renderInlineContent renders node's children into a string without
// disturbing the enclosing inline buffer or style counters.
func (renderer *markdownRenderer) renderInlineContent(node ast.Node) string {
	saved := renderer.inline.String()
	savedBold, savedItalic, savedStrike := renderer.boldCount, renderer.italicCount, renderer.strikethroughCount

	renderer.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, renderer.walk)
	}
	result := renderer.inline.String()

	renderer.inline.Reset()
	renderer.inline.WriteString(saved)
	renderer.boldCount, renderer.italicCount, renderer.strikethroughCount = savedBold, savedItalic, savedStrike
	return result
}

func (renderer *markdownRenderer) blockText(node ast.Node) string {
	var content strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		content.Write(segment.Value(renderer.source))
	}
	return content.String()
}

func (renderer *markdownRenderer) renderCode(highlighted string) {
	renderer.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(highlighted, "\n"), "\n") {
		renderer.writeOutput(renderer.consumeLinePrefix() + line)
		renderer.writeOutput("\n")
	}
	renderer.ensureBlankLine()
}

func (renderer *markdownRenderer) enterListItem() {
	if len(renderer.lists) == 0 {
		return
	}
	top := &renderer.lists[len(renderer.lists)-1]
	bullet := "• "
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	}
	renderer.pendingBullet = renderer.linePrefix + bullet
	renderer.pushPrefix(strings.Repeat(" ", ansi.StringWidth(bullet)))
}

// stripHTMLTags drops everything between < and >.
func stripHTMLTags(html string) string {
	var result strings.Builder
	inTag := false
	for _, character := range html {
		switch {
		case character == '<':
			inTag = true
		case character == '>':
			inTag = false
		case !inTag:
			result.WriteRune(character)
		}
	}
	return result.String()
}
