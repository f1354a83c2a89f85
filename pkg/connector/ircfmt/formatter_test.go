// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ircfmt

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"empty", "", ""},
		{"bold", "\x02bold\x02 text", "**bold** text"},
		{"italic", "\x1dit\x1d", "*it*"},
		{"underline", "\x1fu\x1f", "__u__"},
		{"strikethrough", "\x1es\x1e", "~~s~~"},
		{"monospace", "\x11code\x11", "`code`"},
		{"unterminated bold closed", "\x02loud", "**loud**"},
		{"reset closes all", "\x02\x1fboth\x0f plain", "**__both__** plain"},
		{"color stripped", "\x0304red\x03 plain", "red plain"},
		{"color with background", "\x0304,12x", "x"},
		{"bare comma kept", "\x03,5", ",5"},
		{"hex color stripped", "\x04FF0000red", "red"},
		{"reverse dropped", "\x16rev\x16", "rev"},
		{"crossed nesting", "\x02\x1dx\x02y\x1d", "***x****y*"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.input); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"\x02bold\x02", "bold"},
		{"\x0304,01color\x03", "color"},
		{"\x1d\x1f\x1e\x11\x16\x0fx", "x"},
		{"\x04abcdefhex", "hex"},
	}
	for _, tt := range tests {
		if got := Strip(tt.input); got != tt.want {
			t.Errorf("Strip(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
