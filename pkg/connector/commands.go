// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Reply texts sent back to the requesting IRC user.
const (
	replyBindSuccessful  = "Bind successful"
	replyChannelNotFound = "Discord channel not found!"
	replyStatsHeader     = "--- Channel Stats ---"

	disconnectMessage = "I'll be back!"
	dieMessage        = "Bye, cruel world!"
)

// ErrChannelNotFound is returned by a DiscordResolver when an ID names
// neither a reachable channel nor a user.
var ErrChannelNotFound = errors.New("discord channel not found")

// ChannelStats describes one joined IRC channel.
type ChannelStats struct {
	Name   string
	Users  []string
	Opers  []string
	Voiced []string
}

// IRCConn is the part of the IRC adapter driven by commands.
type IRCConn interface {
	IRCSender
	Join(ctx context.Context, channel string) error
	// Disconnect quits the current connection; the adapter reconnects.
	Disconnect(reason string)
	Channels() []ChannelStats
}

// DiscordResolver verifies Discord IDs through the Discord adapter.
type DiscordResolver interface {
	// Resolve returns ErrChannelNotFound if id is neither a channel nor a
	// user the bot can reach.
	Resolve(ctx context.Context, id DiscordID) error
}

// Command is a decoded private IRC command.
type Command interface {
	Name() string
}

type (
	DisconnectCommand struct{}
	DieCommand        struct{}
	StatsCommand      struct{}
	ChannelsCommand   struct{}
	TestCommand       struct{ Args []string }
	UnknownCommand    struct{ Command string }
)

// BindCommand binds an IRC channel to a Discord ID, durably if Permanent.
type BindCommand struct {
	IRCChannel string
	DiscordID  DiscordID
	Permanent  bool
}

func (DisconnectCommand) Name() string { return "disconnect" }
func (DieCommand) Name() string        { return "die" }
func (StatsCommand) Name() string      { return "stats" }
func (ChannelsCommand) Name() string   { return "channels" }
func (TestCommand) Name() string       { return "test" }
func (UnknownCommand) Name() string    { return "unknown" }

func (c BindCommand) Name() string {
	if c.Permanent {
		return "permbind"
	}
	return "bind"
}

// CommandError is a malformed command; its message is echoed to the user.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ParseCommand decodes a private message into a Command. Command names are
// case-sensitive. An empty message yields a nil Command and nil error.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}
	name, args := fields[0], fields[1:]
	switch name {
	case "disconnect":
		return DisconnectCommand{}, nil
	case "die":
		return DieCommand{}, nil
	case "stats":
		return StatsCommand{}, nil
	case "channels":
		return ChannelsCommand{}, nil
	case "test":
		return TestCommand{Args: args}, nil
	case "bind":
		return parseBind(name, args, false)
	case "permbind", "pbind", "permabind":
		return parseBind(name, args, true)
	default:
		return UnknownCommand{Command: name}, nil
	}
}

func parseBind(name string, args []string, permanent bool) (Command, error) {
	if len(args) < 2 {
		return nil, &CommandError{
			Command: name,
			Err:     fmt.Errorf("%s requires <irc_channel> <discord_id>, got %d argument(s)", name, len(args)),
		}
	}
	id, err := ParseDiscordID(args[1])
	if err != nil {
		return nil, &CommandError{Command: name, Err: err}
	}
	channel := args[0]
	if permanent {
		channel = NormalizeIRCChannel(channel)
	}
	return BindCommand{IRCChannel: channel, DiscordID: id, Permanent: permanent}, nil
}

// CommandRequest is a private message addressed to the bridge nick.
type CommandRequest struct {
	// Nick is the sender's nickname; replies go there.
	Nick string
	// Source is the sender's full nick!user@host.
	Source string
	Target string
	Text   string
}

// CommandProcessor executes private IRC commands. Every reply is a notice to
// the requesting nick.
type CommandProcessor struct {
	store    *BindingStore
	irc      IRCConn
	discord  DiscordResolver
	shutdown func()
	metrics  *Metrics
	log      zerolog.Logger
}

// NewCommandProcessor creates a processor. shutdown is called by the die
// command and must stop the whole bridge.
func NewCommandProcessor(store *BindingStore, irc IRCConn, discord DiscordResolver, shutdown func(), metrics *Metrics, log zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		store:    store,
		irc:      irc,
		discord:  discord,
		shutdown: shutdown,
		metrics:  metrics,
		log:      log.With().Str("component", "commands").Logger(),
	}
}

// Process decodes and executes one private message.
func (cp *CommandProcessor) Process(ctx context.Context, req CommandRequest) {
	cmd, err := ParseCommand(req.Text)
	if err != nil {
		var cmdErr *CommandError
		name := "malformed"
		if errors.As(err, &cmdErr) {
			name = cmdErr.Command
		}
		cp.log.Info().Err(err).Str("nick", req.Nick).Str("command", name).Msg("Malformed command")
		cp.reply(ctx, req.Nick, "Exception: "+err.Error())
		return
	}
	if cmd == nil {
		return
	}

	cp.log.Info().
		Str("nick", req.Nick).
		Str("source", req.Source).
		Str("command", cmd.Name()).
		Msg("Processing command")
	cp.metrics.recordCommand(cmd.Name())

	switch c := cmd.(type) {
	case DisconnectCommand:
		cp.irc.Disconnect(disconnectMessage)
	case DieCommand:
		cp.shutdown()
	case StatsCommand:
		for _, ch := range cp.irc.Channels() {
			cp.reply(ctx, req.Nick, replyStatsHeader)
			cp.reply(ctx, req.Nick, "Channel: "+ch.Name)
			cp.reply(ctx, req.Nick, "Users: "+strings.Join(ch.Users, ", "))
			cp.reply(ctx, req.Nick, "Opers: "+strings.Join(ch.Opers, ", "))
			cp.reply(ctx, req.Nick, "Voiced: "+strings.Join(ch.Voiced, ", "))
		}
	case ChannelsCommand:
		names := make([]string, 0)
		for _, ch := range cp.irc.Channels() {
			names = append(names, ch.Name)
		}
		cp.reply(ctx, req.Nick, "Channels: "+strings.Join(names, ", "))
	case TestCommand:
		cp.reply(ctx, req.Nick, "Target: "+req.Target)
		cp.reply(ctx, req.Nick, "Source: "+req.Source)
		cp.reply(ctx, req.Nick, fmt.Sprintf("Args: %q", c.Args))
	case BindCommand:
		cp.reply(ctx, req.Nick, cp.bind(ctx, c))
	case UnknownCommand:
		cp.reply(ctx, req.Nick, "Unknown Command: "+c.Command)
	default:
		panic(fmt.Sprintf("unhandled command type %T", cmd))
	}
}

// bind verifies the Discord ID, joins the IRC channel and records the
// binding. It returns the reply text.
func (cp *CommandProcessor) bind(ctx context.Context, c BindCommand) string {
	if err := cp.discord.Resolve(ctx, c.DiscordID); errors.Is(err, ErrChannelNotFound) {
		return replyChannelNotFound
	} else if err != nil {
		cp.log.Warn().Err(err).Stringer("discord_id", c.DiscordID).Msg("Failed to resolve Discord ID")
		return "Exception: " + err.Error()
	}
	if err := cp.irc.Join(ctx, c.IRCChannel); err != nil {
		return "Exception: " + err.Error()
	}
	if c.Permanent {
		if err := cp.store.PermanentBind(c.IRCChannel, c.DiscordID); err != nil {
			cp.log.Error().Err(err).Str("irc_channel", c.IRCChannel).Msg("Failed to persist binding")
			return "Exception: " + err.Error()
		}
	} else {
		cp.store.Bind(c.IRCChannel, c.DiscordID)
	}
	cp.log.Info().
		Str("irc_channel", c.IRCChannel).
		Stringer("discord_id", c.DiscordID).
		Bool("permanent", c.Permanent).
		Msg("Channel bound")
	return replyBindSuccessful
}

func (cp *CommandProcessor) reply(ctx context.Context, nick, text string) {
	if err := cp.irc.Notice(ctx, nick, text); err != nil {
		cp.log.Warn().Err(err).Str("nick", nick).Msg("Failed to send command reply")
	}
}
