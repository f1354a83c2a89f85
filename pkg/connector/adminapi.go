// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxReloadBodySize is the maximum allowed request body for binding reload (1 MB).
const maxReloadBodySize = 1 << 20

// AdminAPI serves the bridge admin endpoints.
type AdminAPI struct {
	store    *BindingStore
	onChange BindingsChangedFunc
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// NewAdminAPI creates the admin API. onChange is called with bindings added
// by a reload; gatherer backs /metrics and may be nil.
func NewAdminAPI(store *BindingStore, onChange BindingsChangedFunc, gatherer prometheus.Gatherer, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		store:    store,
		onChange: onChange,
		gatherer: gatherer,
		log:      log.With().Str("component", "admin_api").Logger(),
	}
}

// Handler returns the admin API routes.
func (api *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bindings", api.HandleBindings)
	mux.HandleFunc("/api/reload-bindings", api.HandleReloadBindings)
	if api.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (api *AdminAPI) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		api.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			api.log.Warn().Err(err).Msg("Failed to shut down admin API")
		}
		return nil
	}
}

type bindingJSON struct {
	IRCChannel string    `json:"irc_channel"`
	DiscordID  DiscordID `json:"discord_id"`
}

// HandleBindings is an HTTP handler for GET /api/bindings.
func (api *AdminAPI) HandleBindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bindings := api.store.Bindings()
	resp := make([]bindingJSON, 0, len(bindings))
	for _, b := range bindings {
		resp = append(resp, bindingJSON{IRCChannel: b.IRCChannel, DiscordID: b.DiscordID})
	}
	api.writeJSON(w, resp)
}

// HandleReloadBindings is an HTTP handler for POST /api/reload-bindings.
// An optional JSON body in the persisted record format is bound
// permanently; without a body the record is re-read from disk.
func (api *AdminAPI) HandleReloadBindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var record map[string]DiscordID
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxReloadBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &record); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}
	}

	source := "file"
	if len(record) > 0 {
		source = "body"
	}
	api.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("source", source).
		Int("entries", len(record)).
		Msg("Binding reload requested")

	var changed []Binding
	if len(record) > 0 {
		for channel, id := range record {
			if id <= 0 {
				http.Error(w, "invalid Discord ID for "+channel, http.StatusBadRequest)
				return
			}
		}
		for channel, id := range record {
			channel = NormalizeIRCChannel(channel)
			if existing, ok := api.store.ResolveToDiscord(channel); ok && existing == id {
				continue
			}
			if err := api.store.PermanentBind(channel, id); err != nil {
				api.log.Error().Err(err).Str("irc_channel", channel).Msg("Failed to persist binding")
				http.Error(w, "failed to persist binding", http.StatusInternalServerError)
				return
			}
			changed = append(changed, Binding{IRCChannel: channel, DiscordID: id})
		}
		sortBindings(changed)
	} else {
		var err error
		changed, err = api.store.Reload()
		if err != nil {
			api.log.Error().Err(err).Msg("Failed to reload bindings record")
			http.Error(w, "failed to read bindings record", http.StatusInternalServerError)
			return
		}
	}

	if len(changed) > 0 && api.onChange != nil {
		api.onChange(r.Context(), changed)
	}

	api.log.Info().
		Int("added", len(changed)).
		Int("total", api.store.Len()).
		Msg("Binding reload complete")
	api.writeJSON(w, map[string]int{
		"added": len(changed),
		"total": api.store.Len(),
	})
}

func (api *AdminAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log.Warn().Err(err).Msg("Failed to write response")
	}
}
