// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// notice is one NOTICE captured by fakeIRC.
type notice struct {
	Target string
	Text   string
}

// fakeIRC records IRC side effects for test assertions.
type fakeIRC struct {
	mu          sync.Mutex
	notices     []notice
	joined      []string
	disconnects []string
	channels    []ChannelStats

	noticeErr error
	// failText fails only notices with exactly this text.
	failText string
	joinErr  error
}

var _ IRCConn = (*fakeIRC)(nil)

func (f *fakeIRC) Notice(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noticeErr != nil {
		return f.noticeErr
	}
	if f.failText != "" && text == f.failText {
		return errors.New("notice rejected")
	}
	f.notices = append(f.notices, notice{Target: target, Text: text})
	return nil
}

func (f *fakeIRC) Join(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, channel)
	return nil
}

func (f *fakeIRC) Disconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, reason)
}

func (f *fakeIRC) Channels() []ChannelStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels
}

func (f *fakeIRC) Notices() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]notice, len(f.notices))
	copy(cp, f.notices)
	return cp
}

// Texts returns the text of every captured notice.
func (f *fakeIRC) Texts() []string {
	var out []string
	for _, n := range f.Notices() {
		out = append(out, n.Text)
	}
	return out
}

func (f *fakeIRC) Joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.joined))
	copy(cp, f.joined)
	return cp
}

// discordSend is one message captured by fakeDiscord.
type discordSend struct {
	ChannelID DiscordID
	Text      string
}

// fakeDiscord implements DiscordSender and DiscordResolver.
type fakeDiscord struct {
	mu    sync.Mutex
	sends []discordSend

	// known lists IDs that Resolve accepts.
	known      map[DiscordID]bool
	resolveErr error
	sendErr    error
}

var (
	_ DiscordSender   = (*fakeDiscord)(nil)
	_ DiscordResolver = (*fakeDiscord)(nil)
)

func (f *fakeDiscord) Send(_ context.Context, channelID DiscordID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, discordSend{ChannelID: channelID, Text: text})
	return nil
}

func (f *fakeDiscord) Resolve(_ context.Context, id DiscordID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	if !f.known[id] {
		return ErrChannelNotFound
	}
	return nil
}

func (f *fakeDiscord) Sends() []discordSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]discordSend, len(f.sends))
	copy(cp, f.sends)
	return cp
}

// fakeSession simulates the Discord REST API for DiscordClient tests.
type fakeSession struct {
	mu sync.Mutex

	// Channels and Users hold the IDs the fake API knows about.
	Channels map[string]bool
	Users    map[string]*discordgo.User
	// Members maps "guildID/userID" to a member.
	Members map[string]*discordgo.Member
	// FailWith makes every call return this error.
	FailWith error

	sent         []discordSend
	dmCreated    []string
	memberLookup int
}

var _ discordSession = (*fakeSession)(nil)

func notFoundError(code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "Unknown"},
	}
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	if !f.Channels[channelID] {
		return nil, notFoundError(discordgo.ErrCodeUnknownChannel)
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	u, ok := f.Users[userID]
	if !ok {
		return nil, notFoundError(discordgo.ErrCodeUnknownUser)
	}
	return u, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	if _, ok := f.Users[recipientID]; !ok {
		return nil, notFoundError(discordgo.ErrCodeUnknownUser)
	}
	f.dmCreated = append(f.dmCreated, recipientID)
	dm := "dm-" + recipientID
	if f.Channels == nil {
		f.Channels = make(map[string]bool)
	}
	f.Channels[dm] = true
	return &discordgo.Channel{ID: dm, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	if !f.Channels[channelID] {
		return nil, notFoundError(discordgo.ErrCodeUnknownChannel)
	}
	f.sent = append(f.sent, discordSend{ChannelID: MakeDiscordID(channelID), Text: channelID + ":" + content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberLookup++
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	m, ok := f.Members[guildID+"/"+userID]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return m, nil
}

// Sent returns "channelID:content" for every delivered message.
func (f *fakeSession) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.Text)
	}
	return out
}

func (f *fakeSession) MemberLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberLookup
}

// newTestStore returns an empty store backed by a file in a temp dir.
func newTestStore(t *testing.T) *BindingStore {
	t.Helper()
	return NewBindingStore(filepath.Join(t.TempDir(), "channels.json"))
}

// newTestRelay wires a relay to recording fakes.
func newTestRelay(store *BindingStore) (*Relay, *fakeIRC, *fakeDiscord) {
	irc := &fakeIRC{}
	discord := &fakeDiscord{}
	return NewRelay(store, irc, discord, RelayOptions{}, zerolog.Nop()), irc, discord
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
