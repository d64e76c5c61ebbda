package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logger "github.com/soulteary/logger-kit"
)

type fakeIssuer struct {
	next  atomic.Uint64
	epoch string
}

func (f *fakeIssuer) IssueToken(answer string) (uint64, string, error) {
	id := f.next.Add(1)
	return id, fmt.Sprintf("tok-%s-%d", answer, id), nil
}

func (f *fakeIssuer) CurrentEpoch() string { return f.epoch }

type fakeRenderer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRenderer) Render(text string, difficulty int) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("%s@%d", text, difficulty)), nil
}

func counterTexts() TextSource {
	var n atomic.Int64
	return func(length int) (string, error) {
		return fmt.Sprintf("%0*d", length, n.Add(1)), nil
	}
}

func newTestCache(t *testing.T, opts Options) (*Cache, *fakeRenderer) {
	t.Helper()
	r := &fakeRenderer{}
	c := New(&fakeIssuer{epoch: "e1"}, r, counterTexts(), opts, logger.New(logger.Config{Level: logger.Disabled}))
	t.Cleanup(c.Close)
	return c, r
}

func TestConfigure(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 6, Difficulty: 2, Capacity: 4})
	if c.Capacity() != 4 || c.Size() != 0 {
		t.Errorf("Capacity = %d, Size = %d", c.Capacity(), c.Size())
	}
	if l, d := c.Settings(); l != 6 || d != 2 {
		t.Errorf("Settings = %d, %d", l, d)
	}
	if err := c.Fill(context.Background()); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	c.Configure(0, 1, 8)
	if c.Capacity() != 8 || c.Size() != 0 {
		t.Errorf("after Configure: Capacity = %d, Size = %d", c.Capacity(), c.Size())
	}
	if l, _ := c.Settings(); l != 5 {
		t.Errorf("invalid length should fall back to 5, got %d", l)
	}
}

func TestDraining(t *testing.T) {
	const m = 5
	c, r := newTestCache(t, Options{AnswerLength: 4, Difficulty: 3, Capacity: m})
	if err := c.Fill(context.Background()); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if c.Size() != m {
		t.Fatalf("Size after Fill = %d, want %d", c.Size(), m)
	}
	for n := 1; n <= 3; n++ {
		ch, err := c.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ch.Token == "" || ch.ID == 0 || len(ch.Answer) != 4 || ch.Difficulty != 3 {
			t.Errorf("Get = %+v", ch)
		}
		if c.Size() != m-n {
			t.Errorf("Size after %d gets = %d, want %d", n, c.Size(), m-n)
		}
	}
	// past exhaustion Get keeps working by building on demand
	for i := 0; i < m; i++ {
		if _, err := c.Get(); err != nil {
			t.Fatalf("Get past exhaustion: %v", err)
		}
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0", c.Size())
	}
	if got := r.calls.Load(); got != m+3 {
		t.Errorf("renders = %d, want %d", got, m+3)
	}
}

func TestGet_FIFO(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 3, Capacity: 3})
	for i := 0; i < 3; i++ {
		e, _ := c.build(3, 0)
		c.push(e, c.gen)
	}
	want := []string{"001", "002", "003"}
	for _, w := range want {
		ch, _ := c.Get()
		if ch.Answer != w {
			t.Errorf("Get answer = %q, want %q", ch.Answer, w)
		}
	}
}

func TestGet_FreshToken(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 3, Capacity: 2})
	_ = c.Fill(context.Background())
	a, _ := c.Get()
	b, _ := c.Get()
	if a.Token == b.Token || a.ID == b.ID {
		t.Error("each Get should carry its own id and token")
	}
}

func TestGet_ZeroCapacity(t *testing.T) {
	c, r := newTestCache(t, Options{AnswerLength: 3, Capacity: 0})
	if err := c.Fill(context.Background()); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if _, err := c.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("renders = %d, want 1", r.calls.Load())
	}
}

func TestGet_RenderError(t *testing.T) {
	c, r := newTestCache(t, Options{AnswerLength: 3, Capacity: 0})
	r.err = errors.New("boom")
	if _, err := c.Get(); err == nil {
		t.Error("Get should fail when the renderer fails on a miss")
	}
}

func TestGet_ConcurrentNoDuplicates(t *testing.T) {
	const m = 64
	c, _ := newTestCache(t, Options{AnswerLength: 6, Capacity: m})
	_ = c.Fill(context.Background())

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := c.Get()
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			mu.Lock()
			seen[ch.Answer]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for answer, n := range seen {
		if n > 1 {
			t.Errorf("entry %q served %d times", answer, n)
		}
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0", c.Size())
	}
}

func TestFill_ReconfiguredDropsStale(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 3, Capacity: 2})
	e, _ := c.build(3, 0)
	gen := c.gen
	c.Configure(3, 0, 2)
	if c.push(e, gen) {
		t.Error("push from an older configuration should be rejected")
	}
}

func TestRefill_Async(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 3, Capacity: 4, AsyncRefill: true})
	if _, err := c.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Size() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Size() != 4 {
		t.Errorf("Size after async refill = %d, want 4", c.Size())
	}
}

func TestFill_ContextCanceled(t *testing.T) {
	c, _ := newTestCache(t, Options{AnswerLength: 3, Capacity: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Fill(ctx); err == nil {
		t.Error("Fill with a canceled context should return an error")
	}
}
