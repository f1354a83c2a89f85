// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"

	"github.com/rs/zerolog"
)

// IRCSender is the outbound side of the IRC adapter.
type IRCSender interface {
	Notice(ctx context.Context, target, text string) error
}

// DiscordSender is the outbound side of the Discord adapter. Implementations
// schedule the send on the Discord client's own worker.
type DiscordSender interface {
	Send(ctx context.Context, channelID DiscordID, text string) error
}

// RelayOptions tunes message transformation in the Relay.
type RelayOptions struct {
	// LineLimit caps each IRC notice. Defaults to MaxNoticeLength.
	LineLimit int
	// ConvertDiscordFormatting turns Discord markdown into IRC codes.
	ConvertDiscordFormatting bool
	// ConvertIRCFormatting turns IRC codes into Discord markdown.
	ConvertIRCFormatting bool
	// StripIRCFormatting removes IRC codes when ConvertIRCFormatting is off.
	StripIRCFormatting bool
	Metrics            *Metrics
}

// Relay shuttles messages between the two networks using the binding store
// to find destinations. Unbound channels are dropped silently.
type Relay struct {
	store   *BindingStore
	irc     IRCSender
	discord DiscordSender
	opts    RelayOptions
	log     zerolog.Logger
}

// NewRelay creates a relay that sends through the given adapters.
func NewRelay(store *BindingStore, irc IRCSender, discord DiscordSender, opts RelayOptions, log zerolog.Logger) *Relay {
	if opts.LineLimit <= 0 {
		opts.LineLimit = MaxNoticeLength
	}
	return &Relay{
		store:   store,
		irc:     irc,
		discord: discord,
		opts:    opts,
		log:     log.With().Str("component", "relay").Logger(),
	}
}

// OnDiscordMessage relays a Discord message (or edit) to its bound IRC
// channel as notices. Direct messages may also be bound by the author's
// user ID.
func (r *Relay) OnDiscordMessage(ctx context.Context, msg *RelayMessage) {
	ircChannel, ok := r.store.ResolveToIRC(msg.ChannelID)
	if !ok && msg.IsDirect && msg.AuthorID != 0 {
		ircChannel, ok = r.store.ResolveToIRC(msg.AuthorID)
	}
	if !ok {
		r.log.Trace().
			Stringer("channel_id", msg.ChannelID).
			Msg("Dropping message from unbound Discord channel")
		r.opts.Metrics.recordDropped(directionToIRC, "unbound")
		return
	}

	out := *msg
	if r.opts.ConvertDiscordFormatting {
		out.Text = discordfmtParse(out.Text)
	}

	sent, failed := 0, 0
	for _, line := range FormatNotice(&out, r.opts.LineLimit) {
		if line == "" {
			// IRC rejects empty notices.
			continue
		}
		sent++
		if err := r.irc.Notice(ctx, ircChannel, line); err != nil {
			failed++
			r.log.Warn().Err(err).
				Str("irc_channel", ircChannel).
				Stringer("channel_id", msg.ChannelID).
				Msg("Failed to send notice to IRC")
			r.opts.Metrics.recordSendFailure(directionToIRC)
		}
	}

	r.log.Debug().
		Str("irc_channel", ircChannel).
		Stringer("channel_id", msg.ChannelID).
		Str("author", msg.Author).
		Bool("edit", msg.IsEdit).
		Int("failed_lines", failed).
		Msg("Relayed Discord message to IRC")
	if failed < sent {
		r.opts.Metrics.recordRelayed(directionToIRC)
	}
}

// OnIRCChannelMessage relays a channel PRIVMSG to the bound Discord channel
// as a single message.
func (r *Relay) OnIRCChannelMessage(ctx context.Context, ircChannel, text string) {
	channelID, ok := r.store.ResolveToDiscord(ircChannel)
	if !ok {
		r.log.Trace().Str("irc_channel", ircChannel).Msg("Dropping message from unbound IRC channel")
		r.opts.Metrics.recordDropped(directionToDiscord, "unbound")
		return
	}

	switch {
	case r.opts.ConvertIRCFormatting:
		text = ircfmtParse(text)
	case r.opts.StripIRCFormatting:
		text = ircfmtStrip(text)
	}
	if text == "" {
		r.opts.Metrics.recordDropped(directionToDiscord, "empty")
		return
	}

	if err := r.discord.Send(ctx, channelID, text); err != nil {
		r.log.Warn().Err(err).
			Str("irc_channel", ircChannel).
			Stringer("channel_id", channelID).
			Msg("Failed to send message to Discord")
		r.opts.Metrics.recordSendFailure(directionToDiscord)
		return
	}
	r.log.Debug().
		Str("irc_channel", ircChannel).
		Stringer("channel_id", channelID).
		Msg("Relayed IRC message to Discord")
	r.opts.Metrics.recordRelayed(directionToDiscord)
}
