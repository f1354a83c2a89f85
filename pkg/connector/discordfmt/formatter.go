// Copyright 2024-2026 Aiku AI

// Package discordfmt converts Discord markdown to IRC formatting codes.
package discordfmt

import (
	"regexp"
	"strconv"
	"strings"
)

// IRC formatting control codes.
const (
	Bold          = "\x02"
	Italic        = "\x1d"
	Underline     = "\x1f"
	Strikethrough = "\x1e"
	Monospace     = "\x11"
	Color         = "\x03"
	Reset         = "\x0f"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```(?:[\\w+-]+\\n)?\\n?(.*?)```")
	codeRe       = regexp.MustCompile("`([^`\n]+)`")
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe  = regexp.MustCompile(`__(.+?)__`)
	italicStarRe = regexp.MustCompile(`\*([^*\n]+?)\*`)
	italicUndRe  = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	spoilerRe    = regexp.MustCompile(`\|\|(.+?)\|\|`)
	linkRe       = regexp.MustCompile(`\[([^\]\n]+)\]\(<?(https?://[^)\s>]+)>?\)`)
)

// spoilerColor renders text black on black, the closest IRC has to a spoiler.
const spoilerColor = Color + "01,01"

// Parse converts a Discord message body to IRC-formatted text. Text without
// markdown is returned unchanged.
func Parse(text string) string {
	if !strings.ContainsAny(text, "*_~`|[") {
		return text
	}

	// Step 1: Pull code out so its content is never touched.
	var codes []string
	placeholder := func(content string) string {
		idx := len(codes)
		codes = append(codes, content)
		return "\x00CODE" + strconv.Itoa(idx) + "\x00"
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return placeholder(strings.TrimSuffix(parts[1], "\n"))
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeRe.FindStringSubmatch(match)
		return placeholder(Monospace + parts[1] + Monospace)
	})

	// Step 2: Links, then inline styles. Bold before italic so "**" is not
	// read as two italic markers.
	text = linkRe.ReplaceAllString(text, "$1 <$2>")
	text = boldRe.ReplaceAllString(text, Bold+"$1"+Bold)
	text = underlineRe.ReplaceAllString(text, Underline+"$1"+Underline)
	text = italicStarRe.ReplaceAllString(text, Italic+"$1"+Italic)
	text = italicUndRe.ReplaceAllString(text, Italic+"$1"+Italic)
	text = strikeRe.ReplaceAllString(text, Strikethrough+"$1"+Strikethrough)
	text = spoilerRe.ReplaceAllString(text, spoilerColor+"$1"+Color)

	// Step 3: Restore code.
	for i, content := range codes {
		text = strings.Replace(text, "\x00CODE"+strconv.Itoa(i)+"\x00", content, 1)
	}
	return text
}
