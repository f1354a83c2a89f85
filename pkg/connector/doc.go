// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements an IRC-Discord relay bridge.
//
// A single IRC connection and a single Discord bot session are joined by a
// mapping between IRC channels and Discord channel (or user) IDs. Discord
// messages are relayed to IRC as notices tagged with the author; IRC channel
// messages are relayed to Discord verbatim. Bindings are managed at runtime
// by private IRC commands and persisted to a JSON record.
//
// # Core Types
//
// [BindingStore] holds the live mapping and its persisted record.
//
// [Relay] routes messages between the networks. [FormatNotice] turns a
// [RelayMessage] into IRC notice lines, paginated to [MaxNoticeLength].
//
// [CommandProcessor] decodes private messages into [Command] values and
// executes them.
//
// [IRCClient] and [DiscordClient] wrap girc and discordgo. All Discord REST
// calls made for the IRC side run on the Discord client's outbound worker.
//
// [Bridge] constructs the components and supervises them.
//
// # Echo Prevention
//
// The bridge relays IRC text to Discord as the bot, and Discord text to IRC
// as notices. Messages authored by the bot itself are dropped on the Discord
// side, and NOTICEs are never relayed from IRC, so neither side loops.
//
// # Sub-packages
//
//   - discordfmt converts Discord markdown to IRC formatting codes.
//   - ircfmt converts IRC formatting codes to Discord markdown.
package connector
