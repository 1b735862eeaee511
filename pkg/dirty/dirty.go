// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dirty tracks the set of paths changed since the last affected-
// tests query, plus a config-file content hash used to detect changes
// that invalidate the whole graph. It is grounded on the teacher's
// pkg/ingestion/hash_delta.go HashDeltaDetector: the same "compare
// stored hash, flag on mismatch" shape, narrowed to an in-memory set
// instead of a persisted manifest.
package dirty

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// MaxDirty is the cap past which AddDirty stops recording individual
// paths and instead latches the overflow guard (spec §4.5).
const MaxDirty = 500

// Tracker accumulates dirty paths between affected-tests queries and
// detects resolver-config-file changes. All methods are safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	dirty    map[string]struct{}
	overflow bool

	configChanged bool
	configHashes  map[string]string // config path -> last observed sha256 hex
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		dirty:        make(map[string]struct{}),
		configHashes: make(map[string]string),
	}
}

// AddDirty marks p as changed. Once the recorded set would exceed
// MaxDirty distinct paths, it stops growing the set and latches the
// overflow guard instead; the set itself is never allowed past the cap
// so a drain after overflow cannot hand back a huge dirty set.
func (t *Tracker) AddDirty(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.dirty[p]; ok {
		return
	}
	if len(t.dirty) >= MaxDirty {
		t.overflow = true
		return
	}
	t.dirty[p] = struct{}{}
}

// Drain returns the current dirty set and the overflow flag, then
// atomically resets both to empty/false. The read and the reset happen
// under the same lock so no caller can observe a set that is itself
// being appended to mid-drain.
func (t *Tracker) Drain() (paths []string, overflowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths = make([]string, 0, len(t.dirty))
	for p := range t.dirty {
		paths = append(paths, p)
	}
	overflowed = t.overflow

	t.dirty = make(map[string]struct{})
	t.overflow = false
	return paths, overflowed
}

// Size reports the number of paths currently recorded, without draining.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}

// IsOverflow reports the latch without draining.
func (t *Tracker) IsOverflow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overflow
}

// CheckConfigChange hashes content and compares it against the last
// hash observed for configPath. The first-ever observation of a path
// just records its hash and is not a change (spec §4.5); a later call
// whose hash differs from the stored one sets the sticky config-changed
// flag. Returns true if this call caused the change to be newly
// observed.
func (t *Tracker) CheckConfigChange(configPath string, content []byte) bool {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.configHashes[configPath]
	t.configHashes[configPath] = hash
	if !seen {
		return false
	}
	if prev == hash {
		return false
	}
	t.configChanged = true
	return true
}

// ConfigChanged reports whether a config change has been observed since
// the last SetConfigChanged(false).
func (t *Tracker) ConfigChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.configChanged
}

// SetConfigChanged overwrites the sticky config-changed flag, letting
// the affected-engine state machine clear it once a full run has
// accounted for the change.
func (t *Tracker) SetConfigChanged(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configChanged = v
}
