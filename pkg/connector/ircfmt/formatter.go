// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ircfmt converts IRC formatting codes to Discord markdown.
package ircfmt

import (
	"strings"
)

const (
	codeBold          = 0x02
	codeColor         = 0x03
	codeHexColor      = 0x04
	codeReset         = 0x0f
	codeMonospace     = 0x11
	codeReverse       = 0x16
	codeItalic        = 0x1d
	codeStrikethrough = 0x1e
	codeUnderline     = 0x1f
)

var markers = map[byte]string{
	codeBold:          "**",
	codeItalic:        "*",
	codeUnderline:     "__",
	codeStrikethrough: "~~",
	codeMonospace:     "`",
}

// Parse converts IRC-formatted text to Discord markdown. Colors and reverse
// video have no Discord equivalent and are dropped. Styles still open at the
// end of the text are closed.
func Parse(text string) string {
	if !hasControlCodes(text) {
		return text
	}

	var sb strings.Builder
	var open []byte // style stack, innermost last

	closeFrom := func(idx int) {
		for i := len(open) - 1; i >= idx; i-- {
			sb.WriteString(markers[open[i]])
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case codeBold, codeItalic, codeUnderline, codeStrikethrough, codeMonospace:
			idx := indexOf(open, c)
			if idx < 0 {
				open = append(open, c)
				sb.WriteString(markers[c])
				continue
			}
			// Markdown needs proper nesting: close everything above the
			// toggled style, then reopen it.
			closeFrom(idx)
			rest := append([]byte(nil), open[idx+1:]...)
			open = open[:idx]
			for _, s := range rest {
				open = append(open, s)
				sb.WriteString(markers[s])
			}
		case codeReset:
			closeFrom(0)
			open = open[:0]
		case codeColor:
			i = skipColor(text, i, isDigit, 2)
		case codeHexColor:
			i = skipColor(text, i, isHex, 6)
		case codeReverse:
		default:
			sb.WriteByte(c)
		}
	}
	closeFrom(0)
	return sb.String()
}

// Strip removes every IRC formatting code without adding markdown.
func Strip(text string) string {
	if !hasControlCodes(text) {
		return text
	}
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case codeBold, codeItalic, codeUnderline, codeStrikethrough, codeMonospace, codeReset, codeReverse:
		case codeColor:
			i = skipColor(text, i, isDigit, 2)
		case codeHexColor:
			i = skipColor(text, i, isHex, 6)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func hasControlCodes(text string) bool {
	return strings.ContainsAny(text, "\x02\x03\x04\x0f\x11\x16\x1d\x1e\x1f")
}

// skipColor returns the index of the last byte of a color sequence starting
// at i: the control code, an optional foreground and an optional ",background".
func skipColor(text string, i int, valid func(byte) bool, width int) int {
	j := i + 1
	fg := scan(text, j, valid, width)
	if fg == j {
		return i
	}
	j = fg
	if j < len(text) && text[j] == ',' {
		if bg := scan(text, j+1, valid, width); bg > j+1 {
			j = bg
		}
	}
	return j - 1
}

func scan(text string, j int, valid func(byte) bool, width int) int {
	end := j
	for end < len(text) && end-j < width && valid(text[end]) {
		end++
	}
	return end
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func indexOf(stack []byte, c byte) int {
	for i, s := range stack {
		if s == c {
			return i
		}
	}
	return -1
}
