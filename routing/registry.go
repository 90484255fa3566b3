// Copyright 2025 SentryGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package routing holds the backend registry and the selection
// algorithm that picks a primary backend and its cascade fallbacks for
// each request.
package routing

import (
	"fmt"
	"sort"
	"sync/atomic"

	"sentrygate/platform/backends"
)

// Entry pairs a backend descriptor with its adapter.
type Entry struct {
	Backend backends.Backend
	Adapter backends.Adapter
}

// snapshot is an immutable view of the catalog. Reads never lock;
// reloads swap the whole snapshot atomically.
type snapshot struct {
	entries map[string]Entry
	ids     []string
}

// Registry is the process-wide backend catalog. Read-mostly: mutated
// only at startup and on explicit reload.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry builds a registry from validated entries.
func NewRegistry(entries []Entry) (*Registry, error) {
	snap, err := buildSnapshot(entries)
	if err != nil {
		return nil, err
	}

	r := &Registry{}
	r.snap.Store(snap)
	return r, nil
}

// Reload replaces the catalog atomically. In-flight requests keep the
// snapshot they started with.
func (r *Registry) Reload(entries []Entry) error {
	snap, err := buildSnapshot(entries)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	return nil
}

func buildSnapshot(entries []Entry) (*snapshot, error) {
	snap := &snapshot{entries: make(map[string]Entry, len(entries))}

	for _, e := range entries {
		if err := e.Backend.Validate(); err != nil {
			return nil, fmt.Errorf("registering backend: %w", err)
		}
		if _, dup := snap.entries[e.Backend.ID]; dup {
			return nil, fmt.Errorf("duplicate backend id %q", e.Backend.ID)
		}
		snap.entries[e.Backend.ID] = e
		snap.ids = append(snap.ids, e.Backend.ID)
	}

	sort.Strings(snap.ids)
	return snap, nil
}

// Get returns the entry for a backend ID.
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.snap.Load().entries[id]
	return e, ok
}

// Adapter returns the adapter for a backend ID.
func (r *Registry) Adapter(id string) (backends.Adapter, bool) {
	e, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return e.Adapter, true
}

// List returns all descriptors in stable ID order.
func (r *Registry) List() []backends.Backend {
	snap := r.snap.Load()
	out := make([]backends.Backend, 0, len(snap.ids))
	for _, id := range snap.ids {
		out = append(out, snap.entries[id].Backend)
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.snap.Load().ids)
}
