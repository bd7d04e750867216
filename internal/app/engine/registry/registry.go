// Package registry tracks the live players of an engine by object id.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/app/playback"
)

var (
	ErrDuplicatePlayer = errors.New("player already registered")
	ErrUnknownPlayer   = errors.New("unknown player")
)

// PlayerRegistry manages players with thread-safe access.
type PlayerRegistry struct {
	mu      sync.RWMutex
	players map[int]*playback.Player
}

// NewPlayerRegistry creates a new player registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{
		players: make(map[int]*playback.Player),
	}
}

// Reserve claims an object id before its player is built, so concurrent
// creators of the same id fail fast.
func (r *PlayerRegistry) Reserve(objectID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[objectID]; ok {
		return errors.Wrapf(ErrDuplicatePlayer, "object_id=%d", objectID)
	}
	r.players[objectID] = nil
	return nil
}

// Bind stores the player for a reserved id.
func (r *PlayerRegistry) Bind(p *playback.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ObjectID()] = p
}

// Get retrieves a player by object id.
func (r *PlayerRegistry) Get(objectID int) (*playback.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[objectID]
	if !ok || p == nil {
		return nil, errors.Wrapf(ErrUnknownPlayer, "object_id=%d", objectID)
	}
	return p, nil
}

// Remove unregisters a player and returns it. A reservation without a
// player is released and reported as unknown.
func (r *PlayerRegistry) Remove(objectID int) (*playback.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[objectID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlayer, "object_id=%d", objectID)
	}
	delete(r.players, objectID)
	if p == nil {
		return nil, errors.Wrapf(ErrUnknownPlayer, "object_id=%d", objectID)
	}
	return p, nil
}

// Drain removes every player and returns them ordered by object id.
func (r *PlayerRegistry) Drain() []*playback.Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.sortedLocked()
	r.players = make(map[int]*playback.Player)
	return result
}

// All returns all players ordered by object id.
func (r *PlayerRegistry) All() []*playback.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *PlayerRegistry) sortedLocked() []*playback.Player {
	result := make([]*playback.Player, 0, len(r.players))
	for _, p := range r.players {
		if p != nil {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ObjectID() < result[j].ObjectID()
	})
	return result
}

// Count returns the number of registered players.
func (r *PlayerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.players {
		if p != nil {
			n++
		}
	}
	return n
}
