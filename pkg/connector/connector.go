// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Bridge wires the binding store, both network adapters, the relay and the
// command processor together.
type Bridge struct {
	Config   *Config
	Store    *BindingStore
	Metrics  *Metrics
	IRC      *IRCClient
	Discord  *DiscordClient
	Relay    *Relay
	Commands *CommandProcessor

	registry *prometheus.Registry
	cancelMu sync.Mutex
	cancel   context.CancelCauseFunc
	log      zerolog.Logger
}

// ErrShutdownRequested is the cancellation cause set by the die command.
var ErrShutdownRequested = errors.New("shutdown requested over IRC")

// NewBridge builds a bridge from a post-processed config and loads the
// persisted bindings. A corrupt binding record is an error.
func NewBridge(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	store := NewBindingStore(cfg.Bindings.Path)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := MustNewMetrics(registry, store.Len)

	discord, err := NewDiscordClient(&cfg.Discord, store, metrics, log)
	if err != nil {
		return nil, err
	}
	irc := NewIRCClient(&cfg.IRC, store, log)

	br := &Bridge{
		Config:   cfg,
		Store:    store,
		Metrics:  metrics,
		IRC:      irc,
		Discord:  discord,
		registry: registry,
		log:      log,
	}
	br.Relay = NewRelay(store, irc, discord, RelayOptions{
		ConvertDiscordFormatting: cfg.Discord.ConvertFormatting,
		ConvertIRCFormatting:     cfg.IRC.ConvertFormatting,
		StripIRCFormatting:       cfg.IRC.StripFormatting,
		Metrics:                  metrics,
	}, log)
	br.Commands = NewCommandProcessor(store, irc, discord, br.Shutdown, metrics, log)

	log.Info().
		Int("bindings", store.Len()).
		Str("bindings_path", store.Path()).
		Msg("Bridge initialized")
	return br, nil
}

// Run starts every task and blocks until the context is cancelled, the die
// command is received, or a task fails.
func (br *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	br.cancelMu.Lock()
	br.cancel = cancel
	br.cancelMu.Unlock()
	defer cancel(nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return br.Discord.Run(ctx, br.Relay.OnDiscordMessage)
	})
	g.Go(func() error {
		return br.IRC.Run(ctx, IRCHandlers{
			OnChannelMessage: br.Relay.OnIRCChannelMessage,
			OnCommand:        br.Commands.Process,
		})
	})
	if br.Config.Bindings.Watch {
		watcher := NewBindingWatcher(br.Store, br.joinBound, br.log)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}
	if addr := br.Config.AdminAPIAddr; addr != "" {
		api := NewAdminAPI(br.Store, br.joinBound, br.registry, br.log)
		g.Go(func() error {
			return api.Serve(ctx, addr)
		})
	}

	err := g.Wait()
	if err == nil && errors.Is(context.Cause(ctx), ErrShutdownRequested) {
		br.log.Info().Msg("Bridge stopped by die command")
	}
	return err
}

// Shutdown stops a running bridge.
func (br *Bridge) Shutdown() {
	br.cancelMu.Lock()
	cancel := br.cancel
	br.cancelMu.Unlock()
	if cancel != nil {
		br.log.Info().Msg("Shutting down bridge")
		cancel(ErrShutdownRequested)
	}
}

// joinBound joins the IRC channels of newly added bindings.
func (br *Bridge) joinBound(ctx context.Context, changed []Binding) {
	for _, b := range changed {
		if err := br.IRC.Join(ctx, b.IRCChannel); err != nil {
			br.log.Warn().Err(err).Str("irc_channel", b.IRCChannel).Msg("Failed to join bound channel")
		}
	}
}
