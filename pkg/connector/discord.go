// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	discordOutboundQueueSize = 256
	discordInboundQueueSize  = 256
	discordStateMessageCount = 200
)

// ErrClientStopped is returned when work is submitted to a stopped adapter.
var ErrClientStopped = errors.New("client stopped")

// discordSession is the subset of *discordgo.Session used by the bridge.
// Tests inject a fake.
type discordSession interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// discordJob is one unit of work executed on the outbound worker.
type discordJob struct {
	ctx    context.Context
	run    func(ctx context.Context) error
	result chan error
}

// discordInbound is a gateway message event waiting for the inbound worker.
type discordInbound struct {
	msg     *discordgo.Message
	content string
	edit    bool
}

// DiscordClient owns the Discord gateway session. Every REST call that
// mutates Discord runs on a single outbound worker; gateway events are
// drained in arrival order by a single inbound worker.
type DiscordClient struct {
	cfg     *DiscordConfig
	store   *BindingStore
	metrics *Metrics

	session discordSession
	gateway *discordgo.Session

	selfMu sync.RWMutex
	selfID string

	outbound chan discordJob
	inbound  chan discordInbound

	// names caches guild nicknames keyed by "guildID/userID".
	names *lru.Cache[string, string]
	// dmChannels caches user ID to DM channel ID.
	dmChannels *lru.Cache[DiscordID, string]

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var (
	_ DiscordSender   = (*DiscordClient)(nil)
	_ DiscordResolver = (*DiscordClient)(nil)
)

// NewDiscordClient creates a bot session for cfg.Token. The gateway is not
// opened until Run.
func NewDiscordClient(cfg *DiscordConfig, store *BindingStore, metrics *Metrics, log zerolog.Logger) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.SyncEvents = true
	session.State.MaxMessageCount = discordStateMessageCount

	dc, err := newDiscordClient(session, cfg, store, metrics, log)
	if err != nil {
		return nil, err
	}
	dc.gateway = session
	session.AddHandler(dc.onReady)
	session.AddHandler(dc.onMessageCreate)
	session.AddHandler(dc.onMessageUpdate)
	return dc, nil
}

func newDiscordClient(session discordSession, cfg *DiscordConfig, store *BindingStore, metrics *Metrics, log zerolog.Logger) (*DiscordClient, error) {
	size := cfg.DisplayCacheSize
	if size <= 0 {
		size = defaultDisplayCache
	}
	names, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create display name cache: %w", err)
	}
	dmChannels, err := lru.New[DiscordID, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create DM channel cache: %w", err)
	}
	return &DiscordClient{
		cfg:        cfg,
		store:      store,
		metrics:    metrics,
		session:    session,
		outbound:   make(chan discordJob, discordOutboundQueueSize),
		inbound:    make(chan discordInbound, discordInboundQueueSize),
		names:      names,
		dmChannels: dmChannels,
		stopChan:   make(chan struct{}),
		log:        log.With().Str("component", "discord").Logger(),
	}, nil
}

// Run opens the gateway and processes events until ctx is cancelled.
// onMessage is called from the inbound worker, one message at a time.
func (dc *DiscordClient) Run(ctx context.Context, onMessage func(context.Context, *RelayMessage)) error {
	if dc.gateway != nil {
		dc.log.Info().Msg("Connecting to Discord")
		if err := dc.gateway.Open(); err != nil {
			dc.stop()
			return fmt.Errorf("failed to open discord gateway: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dc.processOutbound(ctx)
	}()
	go func() {
		defer wg.Done()
		dc.processInbound(ctx, onMessage)
	}()

	<-ctx.Done()
	dc.stop()
	wg.Wait()

	if dc.gateway != nil {
		if err := dc.gateway.Close(); err != nil {
			dc.log.Warn().Err(err).Msg("Failed to close Discord gateway")
		}
	}
	dc.log.Info().Msg("Discord client stopped")
	return nil
}

func (dc *DiscordClient) stop() {
	dc.stopOnce.Do(func() {
		close(dc.stopChan)
	})
}

func (dc *DiscordClient) processOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dc.stopChan:
			return
		case job := <-dc.outbound:
			err := job.run(job.ctx)
			if job.result != nil {
				job.result <- err
			}
		}
	}
}

func (dc *DiscordClient) processInbound(ctx context.Context, onMessage func(context.Context, *RelayMessage)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dc.stopChan:
			return
		case evt := <-dc.inbound:
			msg := dc.toRelayMessage(ctx, evt)
			if onMessage != nil {
				onMessage(ctx, msg)
			}
		}
	}
}

// dispatch queues run on the outbound worker without waiting for it.
func (dc *DiscordClient) dispatch(ctx context.Context, run func(ctx context.Context) error, result chan error) error {
	select {
	case <-dc.stopChan:
		return ErrClientStopped
	default:
	}
	select {
	case dc.outbound <- discordJob{ctx: ctx, run: run, result: result}:
		return nil
	case <-dc.stopChan:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send schedules a message to a channel, or to a user's DM channel when
// channelID names a user. It returns once the send is queued; delivery
// failures are logged by the worker.
func (dc *DiscordClient) Send(ctx context.Context, channelID DiscordID, text string) error {
	return dc.dispatch(ctx, func(ctx context.Context) error {
		if err := dc.send(ctx, channelID, text); err != nil {
			dc.log.Warn().Err(err).
				Stringer("channel_id", channelID).
				Msg("Failed to send message to Discord")
			dc.metrics.recordSendFailure(directionToDiscord)
			return err
		}
		return nil
	}, nil)
}

func (dc *DiscordClient) send(ctx context.Context, id DiscordID, text string) error {
	if dmChannel, ok := dc.dmChannels.Get(id); ok {
		_, err := dc.session.ChannelMessageSend(dmChannel, text, discordgo.WithContext(ctx))
		return err
	}
	_, err := dc.session.ChannelMessageSend(id.String(), text, discordgo.WithContext(ctx))
	if err == nil || !isDiscordClientError(err) {
		return err
	}
	dmChannel, dmErr := dc.userChannel(ctx, id)
	if dmErr != nil {
		return err
	}
	_, err = dc.session.ChannelMessageSend(dmChannel, text, discordgo.WithContext(ctx))
	return err
}

// Resolve checks that id names a channel the bot can see, or a user it can
// open a DM with. It blocks until the outbound worker has answered.
func (dc *DiscordClient) Resolve(ctx context.Context, id DiscordID) error {
	result := make(chan error, 1)
	if err := dc.dispatch(ctx, func(ctx context.Context) error {
		return dc.resolve(ctx, id)
	}, result); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-dc.stopChan:
		return ErrClientStopped
	}
}

func (dc *DiscordClient) resolve(ctx context.Context, id DiscordID) error {
	_, err := dc.session.Channel(id.String(), discordgo.WithContext(ctx))
	if err == nil {
		return nil
	} else if !isDiscordClientError(err) {
		return fmt.Errorf("failed to get channel %s: %w", id, err)
	}
	if _, err = dc.userChannel(ctx, id); err == nil {
		return nil
	} else if isDiscordClientError(err) {
		return ErrChannelNotFound
	}
	return fmt.Errorf("failed to get user %s: %w", id, err)
}

// userChannel returns the DM channel for a user, creating it if needed.
func (dc *DiscordClient) userChannel(ctx context.Context, userID DiscordID) (string, error) {
	if ch, ok := dc.dmChannels.Get(userID); ok {
		return ch, nil
	}
	if _, err := dc.session.User(userID.String(), discordgo.WithContext(ctx)); err != nil {
		return "", err
	}
	ch, err := dc.session.UserChannelCreate(userID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	dc.dmChannels.Add(userID, ch.ID)
	return ch.ID, nil
}

// isDiscordClientError reports whether Discord rejected a request because
// the target is unknown or inaccessible.
func isDiscordClientError(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	if restErr.Response == nil {
		return false
	}
	switch restErr.Response.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func (dc *DiscordClient) self() string {
	dc.selfMu.RLock()
	defer dc.selfMu.RUnlock()
	return dc.selfID
}

func (dc *DiscordClient) setSelf(id string) {
	dc.selfMu.Lock()
	dc.selfID = id
	dc.selfMu.Unlock()
}

func (dc *DiscordClient) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		dc.setSelf(r.User.ID)
		dc.log.Info().
			Str("user_id", r.User.ID).
			Str("username", r.User.Username).
			Int("guilds", len(r.Guilds)).
			Msg("Connected to Discord")
	}
	// Warm up caches and report bindings the bot cannot reach.
	err := dc.dispatch(context.Background(), func(ctx context.Context) error {
		dc.checkBindings(ctx)
		return nil
	}, nil)
	if err != nil {
		dc.log.Debug().Err(err).Msg("Skipped binding check")
	}
}

func (dc *DiscordClient) checkBindings(ctx context.Context) {
	if dc.store == nil {
		return
	}
	unreachable := 0
	for _, b := range dc.store.Bindings() {
		if err := dc.resolve(ctx, b.DiscordID); err != nil {
			unreachable++
			dc.log.Warn().Err(err).
				Str("irc_channel", b.IRCChannel).
				Stringer("discord_id", b.DiscordID).
				Msg("Bound Discord channel is not reachable")
		}
	}
	dc.log.Debug().Int("unreachable", unreachable).Msg("Checked bound Discord channels")
}

func (dc *DiscordClient) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	dc.enqueueInbound(s, m.Message, false)
}

func (dc *DiscordClient) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	// Embed unfurls arrive as updates without an edit timestamp.
	if m.Message == nil || m.EditedTimestamp == nil {
		return
	}
	if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
		return
	}
	dc.enqueueInbound(s, m.Message, true)
}

func (dc *DiscordClient) enqueueInbound(s *discordgo.Session, msg *discordgo.Message, edit bool) {
	if !dc.shouldRelay(msg) {
		return
	}
	content := msg.Content
	if s != nil {
		if replaced, err := msg.ContentWithMoreMentionsReplaced(s); err == nil {
			content = replaced
		}
	}
	select {
	case dc.inbound <- discordInbound{msg: msg, content: content, edit: edit}:
	case <-dc.stopChan:
	}
}

// shouldRelay filters out the bot's own messages and events without an author.
func (dc *DiscordClient) shouldRelay(msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil {
		return false
	}
	self := dc.self()
	return self == "" || msg.Author.ID != self
}

func (dc *DiscordClient) toRelayMessage(ctx context.Context, evt discordInbound) *RelayMessage {
	msg := evt.msg
	out := &RelayMessage{
		Source:    SourceDiscord,
		Author:    dc.displayName(ctx, msg),
		Text:      evt.content,
		IsEdit:    evt.edit,
		IsDirect:  msg.GuildID == "",
		ChannelID: MakeDiscordID(msg.ChannelID),
		AuthorID:  MakeDiscordID(msg.Author.ID),
	}
	for _, att := range msg.Attachments {
		if att != nil && att.URL != "" {
			out.Attachments = append(out.Attachments, att.URL)
		}
	}
	return out
}

// displayName renders the author tag, looking up the guild nickname when
// the gateway event did not carry the member.
func (dc *DiscordClient) displayName(ctx context.Context, msg *discordgo.Message) string {
	author := msg.Author
	params := DisplaynameParams{
		ID:            author.ID,
		Username:      author.Username,
		GlobalName:    author.GlobalName,
		Discriminator: author.Discriminator,
	}
	if msg.GuildID != "" {
		params.Nick = dc.guildNick(ctx, msg.GuildID, author.ID, msg.Member)
	}
	return dc.cfg.FormatDisplayname(params)
}

func (dc *DiscordClient) guildNick(ctx context.Context, guildID, userID string, member *discordgo.Member) string {
	key := guildID + "/" + userID
	if member != nil {
		dc.names.Add(key, member.Nick)
		return member.Nick
	}
	if nick, ok := dc.names.Get(key); ok {
		return nick
	}
	m, err := dc.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		dc.log.Debug().Err(err).
			Str("guild_id", guildID).
			Str("user_id", userID).
			Msg("Failed to get guild member")
		return ""
	}
	dc.names.Add(key, m.Nick)
	return m.Nick
}
