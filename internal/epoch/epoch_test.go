package epoch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logger "github.com/soulteary/logger-kit"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.Disabled})
}

func TestNew(t *testing.T) {
	r, err := New(0, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", r.Interval(), DefaultInterval)
	}
	if r.Current() == "" || r.Previous() == "" {
		t.Fatal("both epochs should be set after New")
	}
	if r.Current() == r.Previous() {
		t.Error("current and previous should differ")
	}
	if !r.Exists(r.Current()) || !r.Exists(r.Previous()) {
		t.Error("Exists should be true for live values")
	}
	if r.Exists("") || r.Exists("nope") {
		t.Error("Exists should be false for unknown values")
	}
}

func TestValue(t *testing.T) {
	r, _ := New(time.Minute, testLogger())
	if r.Value(Current) != r.Current() {
		t.Error("Value(Current) mismatch")
	}
	if r.Value(Previous) != r.Previous() {
		t.Error("Value(Previous) mismatch")
	}
}

func TestRotate(t *testing.T) {
	r, _ := New(time.Minute, testLogger())
	first, oldPrev := r.Current(), r.Previous()

	rot, err := r.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rot.Previous != first || r.Previous() != first {
		t.Errorf("previous = %q, want old current %q", r.Previous(), first)
	}
	if rot.Dropped != oldPrev {
		t.Errorf("Dropped = %q, want %q", rot.Dropped, oldPrev)
	}
	if r.Exists(oldPrev) {
		t.Error("dropped value should no longer exist")
	}

	if _, err := r.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if r.Exists(first) {
		t.Error("value should expire after two rotations")
	}
	if len(rot.Live()) != 2 {
		t.Errorf("Live = %v", rot.Live())
	}
}

func TestRun(t *testing.T) {
	r, _ := New(10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Rotation)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, out)
		close(done)
	}()

	select {
	case rot := <-out:
		if rot.Current == "" || rot.Current == rot.Previous {
			t.Errorf("published rotation = %+v", rot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rotation published")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_RotateErrorKeepsValuesAndWarns(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.WarnLevel, Output: &buf})
	r, err := New(time.Millisecond, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur, prev := r.Current(), r.Previous()
	r.salt = func(int, bool) (string, error) {
		return "", errors.New("entropy unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Rotation, 1)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, out)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	select {
	case rot := <-out:
		t.Errorf("rotation published despite failure: %+v", rot)
	default:
	}
	if r.Current() != cur || r.Previous() != prev {
		t.Error("failed rotation changed the live values")
	}
	if !strings.Contains(buf.String(), "epoch rotation failed") {
		t.Errorf("no warning logged, got %q", buf.String())
	}
}
