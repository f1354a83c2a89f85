// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lrstanley/girc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	ircReconnectBaseDelay = 2 * time.Second
	ircReconnectMaxDelay  = 2 * time.Minute
	nickCollideSuffix     = "_"
	commandQueueSize      = 64
)

var (
	// ErrNotConnected is returned when sending while the IRC link is down.
	ErrNotConnected = errors.New("not connected to IRC")
	// ErrReconnectsExhausted is returned by Run after too many failed
	// connection attempts in a row.
	ErrReconnectsExhausted = errors.New("IRC reconnect attempts exhausted")
)

// IRCHandlers receives inbound IRC traffic.
type IRCHandlers struct {
	// OnChannelMessage is called for PRIVMSGs sent to a channel. It runs on
	// the IRC read loop and must not block.
	OnChannelMessage func(ctx context.Context, channel, text string)
	// OnCommand is called for PRIVMSGs addressed to the bridge nick. Commands
	// run one at a time in arrival order on a worker goroutine, so slow
	// replies never hold up the read loop.
	OnCommand func(ctx context.Context, req CommandRequest)
}

// IRCClient owns the single connection to the IRC server.
type IRCClient struct {
	cfg   *IRCConfig
	store *BindingStore

	client  *girc.Client
	limiter *rate.Limiter

	handlersMu sync.RWMutex
	handlers   IRCHandlers
	ctx        context.Context

	// reconnecting is set by Disconnect so Run does not count the drop as
	// a failure.
	reconnecting atomic.Bool
	connected    chan struct{}

	commands chan CommandRequest

	log zerolog.Logger
}

var _ IRCConn = (*IRCClient)(nil)

// NewIRCClient creates an IRC client for cfg. Nothing is dialled until Run.
func NewIRCClient(cfg *IRCConfig, store *BindingStore, log zerolog.Logger) *IRCClient {
	gcfg := girc.Config{
		Server:     cfg.Host,
		Port:       cfg.Port,
		Nick:       cfg.Nick,
		User:       cfg.Nick,
		Name:       cfg.RealName,
		ServerPass: cfg.Password,
		SSL:        cfg.TLS,
		// Outbound pacing is done by our own limiter.
		AllowFlood: true,
		HandleNickCollide: func(oldNick string) string {
			return oldNick + nickCollideSuffix
		},
	}
	if cfg.TLS {
		gcfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	ic := &IRCClient{
		cfg:       cfg,
		store:     store,
		client:    girc.New(gcfg),
		limiter:   rate.NewLimiter(rate.Limit(cfg.NoticeRate), cfg.NoticeBurst),
		ctx:       context.Background(),
		connected: make(chan struct{}, 1),
		commands:  make(chan CommandRequest, commandQueueSize),
		log:       log.With().Str("component", "irc").Logger(),
	}
	ic.client.Handlers.Add(girc.CONNECTED, ic.onConnected)
	ic.client.Handlers.Add(girc.PRIVMSG, ic.onPrivmsg)
	ic.client.Handlers.Add(girc.ERR_NICKNAMEINUSE, func(_ *girc.Client, e girc.Event) {
		ic.log.Warn().Str("nick", e.Last()).Msg("Nickname in use, retrying with suffix")
	})
	return ic
}

// Run connects and keeps the connection alive until ctx is cancelled.
// It returns ErrReconnectsExhausted after MaxReconnects consecutive failed
// attempts.
func (ic *IRCClient) Run(ctx context.Context, handlers IRCHandlers) error {
	ic.handlersMu.Lock()
	ic.handlers = handlers
	ic.ctx = ctx
	ic.handlersMu.Unlock()

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		ic.commandLoop(workerCtx)
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	go func() {
		<-ctx.Done()
		if ic.client.IsConnected() {
			ic.client.Quit(dieMessage)
		}
		ic.client.Close()
	}()

	failures := 0
	for ctx.Err() == nil {
		ic.log.Info().
			Str("host", ic.cfg.Host).
			Int("port", ic.cfg.Port).
			Bool("tls", ic.cfg.TLS).
			Msg("Connecting to IRC")
		err := ic.client.Connect()
		if ctx.Err() != nil {
			ic.log.Info().Msg("IRC client stopped")
			return nil
		}

		select {
		case <-ic.connected:
			failures = 0
		default:
		}
		if ic.reconnecting.Swap(false) {
			ic.log.Info().Msg("Reconnecting to IRC after requested disconnect")
			continue
		}

		failures++
		if failures > ic.cfg.MaxReconnects {
			return fmt.Errorf("%w: last error: %w", ErrReconnectsExhausted, err)
		}
		delay := reconnectDelay(failures)
		ic.log.Warn().Err(err).
			Int("attempt", failures).
			Dur("retry_in", delay).
			Msg("IRC connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
	return nil
}

// reconnectDelay doubles the base delay per failed attempt up to the cap.
func reconnectDelay(attempt int) time.Duration {
	delay := ircReconnectBaseDelay
	for i := 1; i < attempt && delay < ircReconnectMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, ircReconnectMaxDelay)
}

func (ic *IRCClient) currentHandlers() (context.Context, IRCHandlers) {
	ic.handlersMu.RLock()
	defer ic.handlersMu.RUnlock()
	return ic.ctx, ic.handlers
}

// commandLoop executes queued commands in order until ctx is done.
func (ic *IRCClient) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ic.commands:
			hctx, handlers := ic.currentHandlers()
			if handlers.OnCommand != nil {
				handlers.OnCommand(hctx, req)
			}
		}
	}
}

func (ic *IRCClient) onConnected(c *girc.Client, _ girc.Event) {
	select {
	case ic.connected <- struct{}{}:
	default:
	}
	channels := ic.autoJoinChannels()
	ic.log.Info().
		Str("nick", c.GetNick()).
		Strs("channels", channels).
		Msg("Connected to IRC")
	if len(channels) > 0 {
		c.Cmd.Join(channels...)
	}
}

// autoJoinChannels lists configured and bound channels without duplicates.
func (ic *IRCClient) autoJoinChannels() []string {
	seen := make(map[string]struct{})
	var channels []string
	add := func(name string) {
		name = NormalizeIRCChannel(name)
		key := foldChannel(name)
		if _, ok := seen[key]; ok || !girc.IsValidChannel(name) {
			return
		}
		seen[key] = struct{}{}
		channels = append(channels, name)
	}
	for _, name := range ic.cfg.JoinChannels {
		add(name)
	}
	if ic.store != nil {
		for _, b := range ic.store.Bindings() {
			add(b.IRCChannel)
		}
	}
	return channels
}

func (ic *IRCClient) onPrivmsg(_ *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) < 2 {
		return
	}
	ctx, handlers := ic.currentHandlers()
	target := e.Params[0]
	if girc.IsValidChannel(target) {
		if handlers.OnChannelMessage != nil {
			handlers.OnChannelMessage(ctx, target, e.Last())
		}
		return
	}
	req := CommandRequest{
		Nick:   e.Source.Name,
		Source: e.Source.String(),
		Target: target,
		Text:   e.Last(),
	}
	select {
	case ic.commands <- req:
	default:
		ic.log.Warn().Str("nick", req.Nick).Msg("Command queue full, dropping command")
	}
}

// Notice sends a NOTICE, waiting for the rate limiter.
func (ic *IRCClient) Notice(ctx context.Context, target, text string) error {
	if err := ic.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for notice rate limit: %w", err)
	}
	if !ic.client.IsConnected() {
		return ErrNotConnected
	}
	ic.client.Cmd.Notice(target, text)
	return nil
}

// Join joins channel, normalizing a missing '#' prefix.
func (ic *IRCClient) Join(_ context.Context, channel string) error {
	channel = NormalizeIRCChannel(channel)
	if !girc.IsValidChannel(channel) {
		return fmt.Errorf("invalid IRC channel %q", channel)
	}
	if !ic.client.IsConnected() {
		return ErrNotConnected
	}
	ic.client.Cmd.Join(channel)
	return nil
}

// Disconnect quits the current connection with reason. Run reconnects.
func (ic *IRCClient) Disconnect(reason string) {
	if !ic.client.IsConnected() {
		return
	}
	ic.log.Info().Str("reason", reason).Msg("Disconnecting from IRC")
	ic.reconnecting.Store(true)
	ic.client.Quit(reason)
}

// Channels reports membership of every joined channel, sorted by name.
func (ic *IRCClient) Channels() []ChannelStats {
	names := ic.client.ChannelList()
	slices.Sort(names)
	stats := make([]ChannelStats, 0, len(names))
	for _, name := range names {
		ch := ic.client.LookupChannel(name)
		if ch == nil {
			continue
		}
		stats = append(stats, ic.channelStats(ch))
	}
	return stats
}

func (ic *IRCClient) channelStats(ch *girc.Channel) ChannelStats {
	st := ChannelStats{
		Name:   ch.Name,
		Users:  []string{},
		Opers:  []string{},
		Voiced: []string{},
	}
	for _, nick := range ch.UserList {
		user := ic.client.LookupUser(nick)
		if user == nil {
			st.Users = append(st.Users, nick)
			continue
		}
		st.Users = append(st.Users, user.Nick)
		if user.Perms == nil {
			continue
		}
		perms, ok := user.Perms.Lookup(ch.Name)
		if !ok {
			continue
		}
		if perms.IsAdmin() {
			st.Opers = append(st.Opers, user.Nick)
		}
		if perms.Voice {
			st.Voiced = append(st.Voiced, user.Nick)
		}
	}
	slices.Sort(st.Users)
	slices.Sort(st.Opers)
	slices.Sort(st.Voiced)
	return st
}
