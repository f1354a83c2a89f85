// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type commandHarness struct {
	store    *BindingStore
	irc      *fakeIRC
	discord  *fakeDiscord
	shutdown *atomic.Int32
	cp       *CommandProcessor
}

func newCommandHarness(t *testing.T) *commandHarness {
	t.Helper()
	h := &commandHarness{
		store:    newTestStore(t),
		irc:      &fakeIRC{},
		discord:  &fakeDiscord{known: map[DiscordID]bool{123: true}},
		shutdown: &atomic.Int32{},
	}
	h.cp = NewCommandProcessor(h.store, h.irc, h.discord, func() { h.shutdown.Add(1) }, nil, zerolog.Nop())
	return h
}

func (h *commandHarness) run(text string) []string {
	h.cp.Process(context.Background(), CommandRequest{
		Nick:   "op",
		Source: "op!user@host",
		Target: "bridge",
		Text:   text,
	})
	return h.irc.Texts()
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want Command
	}{
		{"disconnect", DisconnectCommand{}},
		{"die", DieCommand{}},
		{"stats", StatsCommand{}},
		{"channels", ChannelsCommand{}},
		{"test a b", TestCommand{Args: []string{"a", "b"}}},
		{"test", TestCommand{Args: []string{}}},
		{"bind #general 123", BindCommand{IRCChannel: "#general", DiscordID: 123}},
		{"bind general 123", BindCommand{IRCChannel: "general", DiscordID: 123}},
		{"permbind general 123", BindCommand{IRCChannel: "#general", DiscordID: 123, Permanent: true}},
		{"pbind #general 123", BindCommand{IRCChannel: "#general", DiscordID: 123, Permanent: true}},
		{"permabind x 9 extra", BindCommand{IRCChannel: "#x", DiscordID: 9, Permanent: true}},
		{"frobnicate now", UnknownCommand{Command: "frobnicate"}},
		{"STATS", UnknownCommand{Command: "STATS"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.text)
		if err != nil {
			t.Errorf("ParseCommand(%q): unexpected error %v", tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseCommand(%q) mismatch (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestParseCommand_Empty(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "\t"} {
		cmd, err := ParseCommand(text)
		if cmd != nil || err != nil {
			t.Errorf("ParseCommand(%q): got (%v, %v), want (nil, nil)", text, cmd, err)
		}
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"bind", "bind #general", "permbind x", "bind #general abc", "pbind #g 0"} {
		_, err := ParseCommand(text)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Errorf("ParseCommand(%q): expected *CommandError, got %v", text, err)
		}
	}
}

func TestCommandNames(t *testing.T) {
	t.Parallel()
	if (BindCommand{}).Name() != "bind" || (BindCommand{Permanent: true}).Name() != "permbind" {
		t.Error("unexpected bind command names")
	}
	if (UnknownCommand{Command: "x"}).Name() != "unknown" {
		t.Error("unknown commands should share one metric label")
	}
}

func TestProcess_UnknownCommand(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("frobnicate")
	if diff := cmp.Diff([]string{"Unknown Command: frobnicate"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if n := h.irc.Notices()[0]; n.Target != "op" {
		t.Errorf("reply should go to the requesting nick, got %q", n.Target)
	}
}

func TestProcess_EmptyIgnored(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	if got := h.run("   "); len(got) != 0 {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestProcess_BindSuccess(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("bind #general 123")

	if diff := cmp.Diff([]string{"Bind successful"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if id, ok := h.store.ResolveToDiscord("#general"); !ok || id != 123 {
		t.Errorf("binding not stored: (%d, %v)", id, ok)
	}
	if diff := cmp.Diff([]string{"#general"}, h.irc.Joined()); diff != "" {
		t.Errorf("joined mismatch (-want +got):\n%s", diff)
	}
	record, err := ReadRecord(h.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(record) != 0 {
		t.Errorf("bind should not persist, record = %v", record)
	}
}

func TestProcess_BindIdempotent(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.run("bind #general 123")
	h.run("bind #general 123")
	if h.store.Len() != 1 {
		t.Errorf("expected 1 binding, got %d", h.store.Len())
	}
}

func TestProcess_BindChannelNotFound(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("bind #general 999")

	if diff := cmp.Diff([]string{"Discord channel not found!"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if h.store.Len() != 0 {
		t.Error("store should be unchanged")
	}
	if len(h.irc.Joined()) != 0 {
		t.Error("no channel should be joined")
	}
}

func TestProcess_BindResolveError(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.discord.resolveErr = errors.New("gateway timeout")
	got := h.run("bind #general 123")
	if diff := cmp.Diff([]string{"Exception: gateway timeout"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_BindJoinError(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.irc.joinErr = ErrNotConnected
	got := h.run("bind #general 123")
	if diff := cmp.Diff([]string{"Exception: " + ErrNotConnected.Error()}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if h.store.Len() != 0 {
		t.Error("failed join should not bind")
	}
}

func TestProcess_BindMissingArguments(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("bind #general")
	if len(got) != 1 || !strings.HasPrefix(got[0], "Exception: ") {
		t.Errorf("expected one Exception reply, got %q", got)
	}
	if h.store.Len() != 0 {
		t.Error("store should be unchanged")
	}
}

func TestProcess_BindBadID(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("bind #general notanumber")
	want := []string{`Exception: invalid Discord ID "notanumber"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_PermBindNormalizesAndPersists(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("permbind general 123")

	if diff := cmp.Diff([]string{"Bind successful"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	record, err := ReadRecord(h.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]DiscordID{"#general": 123}, record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	fresh := NewBindingStore(h.store.Path())
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if id, ok := fresh.ResolveToDiscord("#general"); !ok || id != 123 {
		t.Errorf("fresh store: got (%d, %v)", id, ok)
	}
}

func TestProcess_PermBindAliases(t *testing.T) {
	t.Parallel()
	for _, alias := range []string{"permbind", "pbind", "permabind"} {
		h := newCommandHarness(t)
		h.run(alias + " #" + alias + " 123")
		record, err := ReadRecord(h.store.Path())
		if err != nil {
			t.Fatal(err)
		}
		if record["#"+alias] != 123 {
			t.Errorf("%s: expected persisted binding, got %v", alias, record)
		}
	}
}

func TestProcess_Stats(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.irc.channels = []ChannelStats{
		{Name: "#a", Users: []string{"bob", "op"}, Opers: []string{"op"}, Voiced: []string{}},
		{Name: "#b", Users: []string{"carol"}, Opers: []string{}, Voiced: []string{"carol"}},
	}
	got := h.run("stats")
	want := []string{
		"--- Channel Stats ---",
		"Channel: #a",
		"Users: bob, op",
		"Opers: op",
		"Voiced: ",
		"--- Channel Stats ---",
		"Channel: #b",
		"Users: carol",
		"Opers: ",
		"Voiced: carol",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_Channels(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.irc.channels = []ChannelStats{{Name: "#a"}, {Name: "#b"}}
	got := h.run("channels")
	if diff := cmp.Diff([]string{"Channels: #a, #b"}, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_Test(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	got := h.run("test one two")
	want := []string{
		"Target: bridge",
		"Source: op!user@host",
		`Args: ["one" "two"]`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_Disconnect(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.run("disconnect")
	if diff := cmp.Diff([]string{disconnectMessage}, h.irc.disconnects); diff != "" {
		t.Errorf("disconnect mismatch (-want +got):\n%s", diff)
	}
	if h.shutdown.Load() != 0 {
		t.Error("disconnect should not shut the bridge down")
	}
}

func TestProcess_Die(t *testing.T) {
	t.Parallel()
	h := newCommandHarness(t)
	h.run("die")
	if h.shutdown.Load() != 1 {
		t.Errorf("expected shutdown to be called once, got %d", h.shutdown.Load())
	}
}
