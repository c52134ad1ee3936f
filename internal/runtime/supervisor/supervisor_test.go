package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoErrorCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(context.Context) error { return errors.New("bad") })
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	if err := s.Stop(context.Background()); err == nil || err.Error() != "boom: bad" {
		t.Fatalf("got %v", err)
	}
}

func TestGoPanicRecovered(t *testing.T) {
	s := New(context.Background())
	s.Go("panics", func(context.Context) error { panic("x") })
	if err := s.Stop(context.Background()); err == nil {
		t.Fatal("panic should be recorded")
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Panics != 1 || snap[0].Active != 0 {
		t.Fatalf("unexpected stats: %+v", snap)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var n atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if n.Add(1) < 3 {
			return errors.New("again")
		}
		return nil
	}, WithBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	deadline := time.Now().Add(time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("restarts must not be fatal: %v", err)
	}
	if n.Load() != 3 {
		t.Fatalf("runs=%d", n.Load())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("dead", func(context.Context) error { return errors.New("down") },
		WithBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))
	deadline := time.Now().Add(time.Second)
	for s.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Err() == nil {
		t.Fatal("expected fatal error after restarts")
	}
	_ = s.Stop(context.Background())
}

func TestCancellationIsClean(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("got %v", err)
	}
}
