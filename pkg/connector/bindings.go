// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Binding associates one IRC channel with one Discord channel or DM target.
type Binding struct {
	IRCChannel string    `json:"irc_channel"`
	DiscordID  DiscordID `json:"discord_id"`
}

// BindingStore holds the live IRC channel to Discord ID mapping and mirrors
// permanent bindings to a JSON record on disk.
type BindingStore struct {
	path string

	mu       sync.RWMutex
	bindings map[string]Binding // keyed by folded IRC channel name
	// applied is the persisted record as last applied to memory, keyed by
	// folded channel name. Reload only applies entries that differ from it,
	// so an unchanged file entry never overrides a newer in-memory Bind.
	applied map[string]DiscordID

	// writeMu serializes read-modify-write cycles of the persisted record.
	writeMu sync.Mutex
}

// NewBindingStore creates an empty store backed by the record at path.
// Call Load to read the persisted bindings.
func NewBindingStore(path string) *BindingStore {
	return &BindingStore{
		path:     path,
		bindings: make(map[string]Binding),
		applied:  make(map[string]DiscordID),
	}
}

// Path returns the location of the persisted record.
func (bs *BindingStore) Path() string {
	return bs.path
}

// ReadRecord reads a persisted binding record. A missing file yields an empty
// record and no error; malformed content is an error.
func ReadRecord(path string) (map[string]DiscordID, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]DiscordID{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read binding record: %w", err)
	}
	record := make(map[string]DiscordID)
	if len(data) == 0 {
		return record, nil
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse binding record %s: %w", path, err)
	}
	return record, nil
}

// Load replaces the in-memory mapping with the persisted record.
func (bs *BindingStore) Load() error {
	record, err := ReadRecord(bs.path)
	if err != nil {
		return err
	}
	bindings := make(map[string]Binding, len(record))
	for channel, id := range record {
		bindings[foldChannel(channel)] = Binding{IRCChannel: channel, DiscordID: id}
	}
	bs.mu.Lock()
	bs.bindings = bindings
	bs.applied = foldRecord(record)
	bs.mu.Unlock()
	return nil
}

// ResolveToDiscord returns the Discord ID bound to an IRC channel.
func (bs *BindingStore) ResolveToDiscord(ircChannel string) (DiscordID, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.bindings[foldChannel(ircChannel)]
	return b.DiscordID, ok
}

// ResolveToIRC returns the IRC channel bound to a Discord ID. If several IRC
// channels are bound to the same ID, the one with the smallest folded name
// wins so routing stays deterministic.
func (bs *BindingStore) ResolveToIRC(id DiscordID) (string, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	var bestKey, bestChannel string
	found := false
	for key, b := range bs.bindings {
		if b.DiscordID != id {
			continue
		}
		if !found || key < bestKey {
			bestKey, bestChannel = key, b.IRCChannel
			found = true
		}
	}
	return bestChannel, found
}

// Bind creates or overwrites a binding in memory only.
func (bs *BindingStore) Bind(ircChannel string, id DiscordID) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.bindings[foldChannel(ircChannel)] = Binding{IRCChannel: ircChannel, DiscordID: id}
}

// PermanentBind binds in memory and then rewrites the persisted record with
// the new entry added. Non-permanent bindings are never written out.
func (bs *BindingStore) PermanentBind(ircChannel string, id DiscordID) error {
	bs.Bind(ircChannel, id)

	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()
	record, err := ReadRecord(bs.path)
	if err != nil {
		return err
	}
	for channel := range record {
		if channel != ircChannel && foldChannel(channel) == foldChannel(ircChannel) {
			delete(record, channel)
		}
	}
	record[ircChannel] = id
	if err := writeRecord(bs.path, record); err != nil {
		return err
	}
	// Only our own entry counts as applied; other entries may carry external
	// edits the next Reload still has to pick up.
	bs.mu.Lock()
	bs.applied[foldChannel(ircChannel)] = id
	bs.mu.Unlock()
	return nil
}

// Reload applies the entries of the persisted record that changed since it
// was last applied, and returns the bindings that changed in memory.
// Bindings removed from the file stay live until restart.
func (bs *BindingStore) Reload() ([]Binding, error) {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()
	record, err := ReadRecord(bs.path)
	if err != nil {
		return nil, err
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var changed []Binding
	for channel, id := range record {
		key := foldChannel(channel)
		if prev, ok := bs.applied[key]; ok && prev == id {
			continue
		}
		if existing, ok := bs.bindings[key]; ok && existing.DiscordID == id {
			continue
		}
		b := Binding{IRCChannel: channel, DiscordID: id}
		bs.bindings[key] = b
		changed = append(changed, b)
	}
	bs.applied = foldRecord(record)
	sortBindings(changed)
	return changed, nil
}

func foldRecord(record map[string]DiscordID) map[string]DiscordID {
	folded := make(map[string]DiscordID, len(record))
	for channel, id := range record {
		folded[foldChannel(channel)] = id
	}
	return folded
}

// Bindings returns a snapshot of all live bindings sorted by channel name.
func (bs *BindingStore) Bindings() []Binding {
	bs.mu.RLock()
	out := make([]Binding, 0, len(bs.bindings))
	for _, b := range bs.bindings {
		out = append(out, b)
	}
	bs.mu.RUnlock()
	sortBindings(out)
	return out
}

// Len returns the number of live bindings.
func (bs *BindingStore) Len() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.bindings)
}

func sortBindings(bindings []Binding) {
	sort.Slice(bindings, func(i, j int) bool {
		return foldChannel(bindings[i].IRCChannel) < foldChannel(bindings[j].IRCChannel)
	})
}

// writeRecord atomically replaces the record at path: the JSON is written to
// a temp file in the same directory, synced, and renamed over the target.
func writeRecord(path string, record map[string]DiscordID) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal binding record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp binding record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write binding record: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync binding record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close binding record: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod binding record: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace binding record: %w", err)
	}
	return nil
}
