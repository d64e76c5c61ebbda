// Package captcha issues and validates stateless challenge tokens.
//
// A token is a keyed signature over (answer, id, epoch) plus the encoded id, so the
// service keeps no record of outstanding challenges. Single use is enforced by a
// bounded per-epoch ledger of consumed ids that is pruned as epochs rotate out.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/soulteary/logger-kit"

	"github.com/soulteary/herald-captcha/internal/cache"
	"github.com/soulteary/herald-captcha/internal/epoch"
	"github.com/soulteary/herald-captcha/internal/idalloc"
	"github.com/soulteary/herald-captcha/internal/metrics"
	"github.com/soulteary/herald-captcha/internal/random"
	"github.com/soulteary/herald-captcha/internal/replay"
	"github.com/soulteary/herald-captcha/internal/token"
)

// Config holds the service settings.
type Config struct {
	CaseSensitive  bool
	NumbersOnly    bool
	ReplayCapacity int
	EpochInterval  time.Duration
	CacheCapacity  int
	AnswerLength   int
	Difficulty     int
	AsyncRefill    bool
	Signer         string
	CompactStride  int
}

// DefaultConfig returns the defaults: case-insensitive, 90s epochs, 10M ledger, 5 chars, difficulty 3.
func DefaultConfig() Config {
	return Config{
		ReplayCapacity: replay.DefaultCapacity,
		EpochInterval:  epoch.DefaultInterval,
		CacheCapacity:  256,
		AnswerLength:   5,
		Difficulty:     3,
		AsyncRefill:    true,
		Signer:         token.SignerBLAKE3,
		CompactStride:  token.DefaultStride,
	}
}

// Stats is a point-in-time view of the service.
type Stats struct {
	CacheSize      int
	CacheCapacity  int
	ReplayTracked  int
	ReplayCapacity int
	AnswerLength   int
	Difficulty     int
	CaseSensitive  bool
	NumbersOnly    bool
}

// Service owns the signing secret, epochs, id allocator, replay ledger and cache.
type Service struct {
	cfg     Config
	log     *logger.Logger
	codec   *token.Codec
	epochs  *epoch.Rotator
	ids     *idalloc.Allocator
	guard   *replay.Guard
	cache   *cache.Cache
	started sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	keyFn  func(n int) ([]byte, error)
	idBase uint64
}

// WithKeySource overrides where the signing secret bytes come from.
func WithKeySource(fn func(n int) ([]byte, error)) Option {
	return func(o *options) { o.keyFn = fn }
}

// WithIDBase sets the value the id allocator counts up from.
func WithIDBase(base uint64) Option {
	return func(o *options) { o.idBase = base }
}

// New builds a Service. renderer draws the challenge images served by Challenge.
func New(cfg Config, renderer cache.Renderer, log *logger.Logger, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	signer, err := token.NewLazySigner(cfg.Signer, o.keyFn)
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(signer, cfg.CaseSensitive, cfg.CompactStride)
	if err != nil {
		return nil, err
	}
	rot, err := epoch.New(cfg.EpochInterval, log)
	if err != nil {
		return nil, fmt.Errorf("init epochs: %w", err)
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		codec:  codec,
		epochs: rot,
		ids:    idalloc.New(o.idBase),
		guard:  replay.New(cfg.ReplayCapacity, log),
		cancel: func() {},
	}
	s.cache = cache.New(s, renderer, s.answerText, cache.Options{
		AnswerLength: cfg.AnswerLength,
		Difficulty:   cfg.Difficulty,
		Capacity:     cfg.CacheCapacity,
		AsyncRefill:  cfg.AsyncRefill,
	}, log)
	return s, nil
}

func (s *Service) answerText(length int) (string, error) {
	return random.String(length, s.cfg.NumbersOnly)
}

// Start launches epoch rotation. Calling it more than once has no effect.
func (s *Service) Start(ctx context.Context) {
	s.started.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		rotations := make(chan epoch.Rotation)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.epochs.Run(ctx, rotations)
		}()
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rot := <-rotations:
					s.afterRotation(rot)
				}
			}
		}()
	})
}

// Close stops rotation and background cache refills.
func (s *Service) Close() {
	s.started.Do(func() {})
	s.cancel()
	s.wg.Wait()
	s.cache.Close()
}

// Rotate advances the epoch immediately and prunes the ledger.
func (s *Service) Rotate() error {
	rot, err := s.epochs.Rotate()
	if err != nil {
		return err
	}
	s.afterRotation(rot)
	return nil
}

func (s *Service) afterRotation(rot epoch.Rotation) {
	s.guard.Prune(rot.Live()...)
	metrics.RecordRotation()
	s.log.Debug().Int("tracked", s.guard.Len()).Msg("epoch rotated")
}

// Encode returns the token for answer and id on the selected epoch.
func (s *Service) Encode(answer string, id uint64, which epoch.Which) (string, error) {
	return s.codec.Encode(answer, id, s.epochs.Value(which))
}

// Issue allocates a fresh id and returns a token for answer on the current epoch.
func (s *Service) Issue(answer string) (string, error) {
	_, tok, err := s.IssueToken(answer)
	return tok, err
}

// IssueToken is Issue that also reports the allocated id.
func (s *Service) IssueToken(answer string) (uint64, string, error) {
	id := s.ids.Next()
	tok, err := s.Encode(answer, id, epoch.Current)
	if err != nil {
		return 0, "", err
	}
	metrics.RecordIssue()
	return id, tok, nil
}

// CurrentEpoch returns the current epoch value.
func (s *Service) CurrentEpoch() string {
	return s.epochs.Current()
}

// Validate reports whether answer solves the challenge behind tok. A token is
// accepted at most once. The reason for a rejection is not exposed.
func (s *Service) Validate(answer, tok string) bool {
	err := s.validate(answer, tok)
	if err == nil {
		metrics.RecordVerify("success", "")
		return true
	}
	reason := reasonOf(err)
	metrics.RecordVerify("failure", reason)
	s.log.Debug().Str("reason", reason).Msg("validation rejected")
	return false
}

func (s *Service) validate(answer, tok string) error {
	id, err := token.DecodeID(tok)
	if err != nil {
		return err
	}
	var matched string
	for _, which := range []epoch.Which{epoch.Current, epoch.Previous} {
		ev := s.epochs.Value(which)
		want, err := s.codec.Encode(answer, id, ev)
		if err != nil {
			return err
		}
		if want == tok {
			matched = ev
			break
		}
	}
	if matched == "" {
		return replay.ErrExpiredToken
	}
	return s.guard.Consume(matched, id, s.epochs.Exists)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, replay.ErrExpiredToken):
		return "expired"
	case errors.Is(err, replay.ErrReplayDetected):
		return "replay"
	case errors.Is(err, replay.ErrCapacityExceeded):
		return "capacity"
	default:
		return "internal_error"
	}
}

// Challenge returns a rendered challenge with a fresh token.
func (s *Service) Challenge() (cache.Challenge, error) {
	return s.cache.Get()
}

// Prefill fills the challenge pool.
func (s *Service) Prefill(ctx context.Context) error {
	return s.cache.Fill(ctx)
}

// Cache exposes the pregeneration cache.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Stats returns cache and ledger sizes.
func (s *Service) Stats() Stats {
	length, difficulty := s.cache.Settings()
	return Stats{
		CacheSize:      s.cache.Size(),
		CacheCapacity:  s.cache.Capacity(),
		ReplayTracked:  s.guard.Len(),
		ReplayCapacity: s.guard.Capacity(),
		AnswerLength:   length,
		Difficulty:     difficulty,
		CaseSensitive:  s.codec.CaseSensitive(),
		NumbersOnly:    s.cfg.NumbersOnly,
	}
}
