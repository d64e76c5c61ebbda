// Package epoch maintains the two live time-window values that bound token validity.
package epoch

import (
	"context"
	"strconv"
	"sync"
	"time"

	logger "github.com/soulteary/logger-kit"

	"github.com/soulteary/herald-captcha/internal/random"
)

// DefaultInterval is the default rotation period.
const DefaultInterval = 90 * time.Second

const saltLen = 5

// Which selects one of the two live epochs.
type Which int

const (
	Current Which = iota
	Previous
)

// Rotation is the state after a rotation. Dropped is the value that stopped being live.
type Rotation struct {
	Current  string
	Previous string
	Dropped  string
}

// Live returns the two live values.
func (r Rotation) Live() []string {
	return []string{r.Current, r.Previous}
}

// Rotator holds the current and previous epoch values.
type Rotator struct {
	mu       sync.RWMutex
	current  string
	previous string
	interval time.Duration
	now      func() time.Time
	salt     func(n int, onlyNumbers bool) (string, error)
	log      *logger.Logger
}

// New creates a Rotator with two freshly generated values.
func New(interval time.Duration, log *logger.Logger) (*Rotator, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Rotator{interval: interval, now: time.Now, salt: random.String, log: log}
	prev, err := r.generate()
	if err != nil {
		return nil, err
	}
	cur, err := r.generate()
	if err != nil {
		return nil, err
	}
	r.previous, r.current = prev, cur
	return r, nil
}

// generate returns random salt + unix seconds, unique across restarts even under poor entropy.
func (r *Rotator) generate() (string, error) {
	salt, err := r.salt(saltLen, false)
	if err != nil {
		return "", err
	}
	return salt + strconv.FormatInt(r.now().Unix(), 10), nil
}

// Interval returns the rotation period.
func (r *Rotator) Interval() time.Duration { return r.interval }

// Current returns the current epoch value.
func (r *Rotator) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Previous returns the previous epoch value.
func (r *Rotator) Previous() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.previous
}

// Value returns the current or previous value.
func (r *Rotator) Value(w Which) string {
	if w == Previous {
		return r.Previous()
	}
	return r.Current()
}

// Exists reports whether v is one of the two live values.
func (r *Rotator) Exists(v string) bool {
	if v == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return v == r.current || v == r.previous
}

// Rotate shifts current into previous and generates a new current value.
func (r *Rotator) Rotate() (Rotation, error) {
	next, err := r.generate()
	if err != nil {
		return Rotation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// two rotations inside one second with a colliding salt would yield a duplicate
	for next == r.current || next == r.previous {
		if next, err = r.generate(); err != nil {
			return Rotation{}, err
		}
	}
	dropped := r.previous
	r.previous = r.current
	r.current = next
	return Rotation{Current: r.current, Previous: r.previous, Dropped: dropped}, nil
}

// Run rotates on every tick and publishes each rotation on out until ctx is done.
// A failed rotation keeps the old values and is retried on the next tick.
func (r *Rotator) Run(ctx context.Context, out chan<- Rotation) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rot, err := r.Rotate()
			if err != nil {
				r.log.Warn().Err(err).Str("current", r.Current()).Msg("epoch rotation failed, keeping live values")
				continue
			}
			select {
			case out <- rot:
			case <-ctx.Done():
				return
			}
		}
	}
}
