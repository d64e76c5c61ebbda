// Package replay keeps the per-epoch ledger of consumed challenge ids.
package replay

import (
	"errors"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	logger "github.com/soulteary/logger-kit"
)

// DefaultCapacity is the default limit on tracked ids across live epochs.
const DefaultCapacity = 10_000_000

var (
	// ErrExpiredToken means the epoch the token matched is no longer live.
	ErrExpiredToken = errors.New("expired token")
	// ErrReplayDetected means the id was already consumed in its epoch.
	ErrReplayDetected = errors.New("replay detected")
	// ErrCapacityExceeded means the ledger is full; validations fail until rotation prunes it.
	ErrCapacityExceeded = errors.New("replay ledger capacity exceeded")
)

// Guard is safe for concurrent use. All state sits behind one mutex.
type Guard struct {
	mu       sync.Mutex
	used     map[string]*roaring64.Bitmap
	total    uint64
	capacity uint64
	log      *logger.Logger
}

// New returns a Guard tracking at most capacity ids (DefaultCapacity if capacity <= 0).
func New(capacity int, log *logger.Logger) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		used:     make(map[string]*roaring64.Bitmap, 2),
		capacity: uint64(capacity),
		log:      log,
	}
}

// Consume marks id as used in epochValue. live is consulted under the lock so that an
// epoch dropped by a concurrent rotation cannot receive new entries.
func (g *Guard) Consume(epochValue string, id uint64, live func(string) bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if live != nil && !live(epochValue) {
		return ErrExpiredToken
	}
	set := g.used[epochValue]
	if set != nil && set.Contains(id) {
		return ErrReplayDetected
	}
	if g.total >= g.capacity {
		g.log.Warn().
			Str("cause", "replay ledger full").
			Uint64("capacity", g.capacity).
			Uint64("tracked", g.total).
			Msg("validation rejected until the next epoch rotation; raise CAPTCHA_REPLAY_CAPACITY if this persists")
		return ErrCapacityExceeded
	}
	if set == nil {
		set = roaring64.New()
		g.used[epochValue] = set
	}
	set.Add(id)
	g.total++
	return nil
}

// Prune drops the ledger of every epoch not listed in live.
func (g *Guard) Prune(live ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ep, set := range g.used {
		if contains(live, ep) {
			continue
		}
		g.total -= set.GetCardinality()
		delete(g.used, ep)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Len returns the number of tracked ids across all epochs.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.total)
}

// Epochs returns the number of epochs with a ledger.
func (g *Guard) Epochs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.used)
}

// Capacity returns the configured limit.
func (g *Guard) Capacity() int {
	return int(g.capacity)
}
