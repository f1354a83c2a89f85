// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"unicode/utf8"

	"github.com/aiku/irccord/pkg/connector/discordfmt"
	"github.com/aiku/irccord/pkg/connector/ircfmt"
)

// MaxNoticeLength is the per-line ceiling for notices sent to IRC.
const MaxNoticeLength = 512

// editPrefix marks a relayed Discord edit.
const editPrefix = "*"

// SourceSystem identifies the network a RelayMessage came from.
type SourceSystem int

const (
	SourceIRC SourceSystem = iota
	SourceDiscord
)

func (s SourceSystem) String() string {
	switch s {
	case SourceIRC:
		return "irc"
	case SourceDiscord:
		return "discord"
	default:
		return "unknown"
	}
}

// RelayMessage is the normalized envelope of a message from either network.
type RelayMessage struct {
	Source      SourceSystem
	Author      string
	Text        string
	Attachments []string
	IsEdit      bool
	IsDirect    bool

	// Discord routing keys; zero for IRC-sourced messages.
	ChannelID DiscordID
	AuthorID  DiscordID
}

// FormatNotice turns an envelope into the notice lines sent to IRC. Lines are
// split on newlines and paginated to lineLimit characters. Channel messages
// get an "<author> " tag on every line; direct messages are sent bare.
// Attachment URLs are appended as one extra line that is never paginated.
func FormatNotice(msg *RelayMessage, lineLimit int) []string {
	text := msg.Text
	if msg.IsEdit {
		text = editPrefix + text
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		pages := Paginate(line, lineLimit)
		if len(pages) > 1 {
			lines = append(lines, pages...)
		} else {
			lines = append(lines, line)
		}
	}
	if len(msg.Attachments) > 0 {
		lines = append(lines, strings.Join(msg.Attachments, " "))
	}

	if !msg.IsDirect {
		tag := "<" + msg.Author + "> "
		for i, line := range lines {
			lines[i] = tag + line
		}
	}
	return lines
}

// Paginate splits line into consecutive chunks of exactly limit characters,
// the last of which may be shorter. Concatenating the chunks yields line.
// An empty line yields no chunks; a non-positive limit disables splitting.
func Paginate(line string, limit int) []string {
	if line == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(line) <= limit {
		return []string{line}
	}
	var pages []string
	for len(line) > 0 {
		cut, count := 0, 0
		for cut < len(line) && count < limit {
			_, size := utf8.DecodeRuneInString(line[cut:])
			cut += size
			count++
		}
		pages = append(pages, line[:cut])
		line = line[cut:]
	}
	return pages
}

// discordfmtParse converts Discord markdown to IRC formatting codes.
func discordfmtParse(text string) string {
	return discordfmt.Parse(text)
}

// ircfmtParse converts IRC formatting codes to Discord markdown.
func ircfmtParse(text string) string {
	return ircfmt.Parse(text)
}

// ircfmtStrip removes IRC formatting codes.
func ircfmtStrip(text string) string {
	return ircfmt.Strip(text)
}
