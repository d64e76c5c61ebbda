// Package cache keeps a bounded pool of pre-rendered challenges.
package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	logger "github.com/soulteary/logger-kit"

	"github.com/soulteary/herald-captcha/internal/metrics"
)

// Issuer binds an answer to a fresh id and token on the current epoch.
type Issuer interface {
	IssueToken(answer string) (id uint64, token string, err error)
	CurrentEpoch() string
}

// Renderer turns challenge text into an image.
type Renderer interface {
	Render(text string, difficulty int) ([]byte, error)
}

// TextSource produces a random answer of the given length.
type TextSource func(length int) (string, error)

// Challenge is a ready-to-serve challenge.
type Challenge struct {
	Answer     string
	ID         uint64
	Difficulty int
	Image      []byte
	Token      string
}

// Options configures a Cache.
type Options struct {
	AnswerLength int
	Difficulty   int
	Capacity     int
	// AsyncRefill tops the pool up in the background after each Get.
	AsyncRefill bool
}

// entry is a pre-rendered challenge without a token, tagged with the epoch it was built in.
type entry struct {
	answer     string
	difficulty int
	image      []byte
	epoch      string
}

// Cache is a ring buffer of entries addressed by slot index.
type Cache struct {
	issuer   Issuer
	renderer Renderer
	texts    TextSource
	log      *logger.Logger

	mu         sync.Mutex
	slots      []entry
	head       int
	count      int
	gen        uint64
	length     int
	difficulty int

	asyncRefill bool
	refilling   atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New returns an empty Cache. Call Fill to pre-generate entries.
func New(issuer Issuer, renderer Renderer, texts TextSource, opts Options, log *logger.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		issuer:      issuer,
		renderer:    renderer,
		texts:       texts,
		log:         log,
		asyncRefill: opts.AsyncRefill,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.Configure(opts.AnswerLength, opts.Difficulty, opts.Capacity)
	return c
}

// Configure sets answer length, difficulty and pool capacity. Pooled entries are discarded.
func (c *Cache) Configure(answerLength, difficulty, capacity int) {
	if answerLength <= 0 {
		c.log.Warn().Int("answer_length", answerLength).Msg("invalid answer length, using 5")
		answerLength = 5
	}
	if capacity < 0 {
		capacity = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make([]entry, capacity)
	c.head, c.count = 0, 0
	c.gen++
	c.length = answerLength
	c.difficulty = difficulty
}

// Size returns the number of pooled entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Capacity returns the pool capacity.
func (c *Cache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Settings returns the configured answer length and difficulty.
func (c *Cache) Settings() (answerLength, difficulty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length, c.difficulty
}

// Get returns the oldest pooled challenge with a freshly issued token, or builds one
// on the spot when the pool is empty. It never waits for a refill.
func (c *Cache) Get() (Challenge, error) {
	c.mu.Lock()
	e, ok := c.popLocked()
	length, difficulty := c.length, c.difficulty
	c.mu.Unlock()

	if ok {
		metrics.RecordCacheGet("pool")
		if e.epoch != c.issuer.CurrentEpoch() {
			c.log.Debug().Msg("cache: serving entry built in an earlier epoch")
		}
	} else {
		metrics.RecordCacheGet("miss")
		var err error
		if e, err = c.build(length, difficulty); err != nil {
			return Challenge{}, err
		}
	}

	id, tok, err := c.issuer.IssueToken(e.answer)
	if err != nil {
		return Challenge{}, fmt.Errorf("cache: issue token: %w", err)
	}
	if c.asyncRefill {
		c.Refill()
	}
	return Challenge{
		Answer:     e.answer,
		ID:         id,
		Difficulty: e.difficulty,
		Image:      e.image,
		Token:      tok,
	}, nil
}

func (c *Cache) popLocked() (entry, bool) {
	if c.count == 0 {
		return entry{}, false
	}
	e := c.slots[c.head]
	c.slots[c.head] = entry{}
	c.head = (c.head + 1) % len(c.slots)
	c.count--
	return e, true
}

// push appends e unless the pool is full or was reconfigured since gen.
func (c *Cache) push(e entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.count == len(c.slots) {
		return false
	}
	c.slots[(c.head+c.count)%len(c.slots)] = e
	c.count++
	return true
}

func (c *Cache) build(length, difficulty int) (entry, error) {
	text, err := c.texts(length)
	if err != nil {
		return entry{}, fmt.Errorf("cache: generate text: %w", err)
	}
	img, err := c.renderer.Render(text, difficulty)
	if err != nil {
		return entry{}, fmt.Errorf("cache: render: %w", err)
	}
	return entry{answer: text, difficulty: difficulty, image: img, epoch: c.issuer.CurrentEpoch()}, nil
}

// Fill builds entries in parallel until the pool is full or ctx is done.
func (c *Cache) Fill(ctx context.Context) error {
	c.mu.Lock()
	missing := len(c.slots) - c.count
	gen, length, difficulty := c.gen, c.length, c.difficulty
	c.mu.Unlock()
	if missing <= 0 {
		return nil
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < missing; i++ {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := c.build(length, difficulty)
			if err != nil {
				return err
			}
			c.push(e, gen)
			return nil
		})
	}
	return p.Wait()
}

// Refill starts a background Fill unless one is already running.
func (c *Cache) Refill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil || !c.refilling.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.refilling.Store(false)
		if err := c.Fill(c.ctx); err != nil && c.ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("cache: background refill failed")
		}
	}()
}

// Close stops background refills and waits for them to exit.
func (c *Cache) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}
