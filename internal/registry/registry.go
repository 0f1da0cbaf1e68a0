// Package registry implements the session registry (C5): a mapping from
// endpoint identifier (EID) to session. Unlike flowpbx's DialogManager,
// this registry carries no mutex — the single-threaded event-loop model
// (see the session engine's concurrency design) confines all registry
// access to one goroutine, with the task queue as the only cross-thread
// touchpoint upstream of it. A lock here would be dead weight.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/laenzlinger/rtpmidi-bridge/internal/protoerr"
)

// Session is the minimal surface the registry needs from a peer session.
// internal/session.Session satisfies this.
type Session interface {
	EID() uint32
}

// Registry maps EIDs to live sessions.
type Registry struct {
	sessions map[uint32]Session
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[uint32]Session),
		logger:   logger.With("subsystem", "registry"),
	}
}

// Register inserts s under eid. Fails with ErrDuplicateEID if eid is
// already live.
func (r *Registry) Register(eid uint32, s Session) error {
	if _, exists := r.sessions[eid]; exists {
		return fmt.Errorf("register eid %#x: %w", eid, protoerr.ErrDuplicateEID)
	}
	r.sessions[eid] = s
	r.logger.Debug("session registered", "eid", eid)
	return nil
}

// Rebind atomically renames a session's key from oldEID to newEID,
// used after a successful OK exchange remaps a session from its locally
// chosen initiator token to the remote peer's advertised SSRC. Fails
// with ErrUnknownEndpoint if oldEID is absent, ErrDuplicateEID if newEID
// is already live (and distinct from oldEID).
func (r *Registry) Rebind(oldEID, newEID uint32) error {
	s, ok := r.sessions[oldEID]
	if !ok {
		return fmt.Errorf("rebind eid %#x: %w", oldEID, protoerr.ErrUnknownEndpoint)
	}
	if oldEID != newEID {
		if _, exists := r.sessions[newEID]; exists {
			return fmt.Errorf("rebind eid %#x -> %#x: %w", oldEID, newEID, protoerr.ErrDuplicateEID)
		}
		delete(r.sessions, oldEID)
		r.sessions[newEID] = s
	}
	r.logger.Debug("session rebound", "old_eid", oldEID, "new_eid", newEID)
	return nil
}

// Lookup returns the session registered under eid, or ErrUnknownEndpoint.
func (r *Registry) Lookup(eid uint32) (Session, error) {
	s, ok := r.sessions[eid]
	if !ok {
		return nil, fmt.Errorf("lookup eid %#x: %w", eid, protoerr.ErrUnknownEndpoint)
	}
	return s, nil
}

// Remove releases eid's binding. No-op if eid is not registered.
func (r *Registry) Remove(eid uint32) {
	if _, ok := r.sessions[eid]; ok {
		delete(r.sessions, eid)
		r.logger.Debug("session removed", "eid", eid)
	}
}

// Sessions returns a snapshot slice of all live sessions, for status
// reporting and shutdown.
func (r *Registry) Sessions() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
