// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lrstanley/girc"
)

// DiscordID is a Discord snowflake (channel, user or DM channel ID).
type DiscordID int64

// ParseDiscordID parses a decimal snowflake as typed by a user or found in the
// binding record.
func ParseDiscordID(s string) (DiscordID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid Discord ID %q", s)
	}
	return DiscordID(id), nil
}

// MakeDiscordID converts a discordgo string ID. Malformed IDs map to zero,
// which never matches a binding.
func MakeDiscordID(snowflake string) DiscordID {
	id, err := strconv.ParseInt(snowflake, 10, 64)
	if err != nil {
		return 0
	}
	return DiscordID(id)
}

// String returns the discordgo form of the ID.
func (id DiscordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id DiscordID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (id *DiscordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	parsed, err := ParseDiscordID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NormalizeIRCChannel prefixes name with '#' unless it already starts with one.
func NormalizeIRCChannel(name string) string {
	if strings.HasPrefix(name, "#") {
		return name
	}
	return "#" + name
}

// foldChannel returns the case-insensitive key of an IRC channel name under
// RFC 1459 case mapping.
func foldChannel(name string) string {
	return girc.ToRFC1459(name)
}
