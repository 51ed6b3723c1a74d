package config

import "context"

// Watcher is the documented extension point for hot-reload: spec.md §9
// scopes re-reading the config file and atomically swapping the live
// Snapshot out of the core entirely ("hot-reload is handled by an
// external collaborator that rebuilds the config snapshot and
// atomically swaps a shared reference"). Nexus ships no implementation
// of this interface; an operator who wants hot-reload wires one
// (fsnotify on the file, a signal handler, a config-management
// webhook) that calls Load and then swaps an atomic.Pointer[Snapshot]
// the Gateway and Registry read from. Every Gateway/Registry/Pipeline
// constructor in this module already takes its configuration as plain
// values at construction time, so a Watcher only needs to rebuild those
// dependents, not reach into their internals.
type Watcher interface {
	// Watch blocks until ctx is cancelled, calling onChange with each
	// newly loaded Snapshot as the backing file changes.
	Watch(ctx context.Context, onChange func(*Snapshot)) error
}
