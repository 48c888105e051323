package asyncx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
)

func TestFuture_AwaitReturnsResult(t *testing.T) {
	f := asyncx.Run(func() (int, error) {
		return 42, nil
	})

	got, err := f.Await()
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestFuture_AwaitIsRepeatable(t *testing.T) {
	var calls int32
	f := asyncx.Run(func() (string, error) {
		atomic.AddInt32(&calls, 1)
		return "once", nil
	})

	for i := 0; i < 3; i++ {
		got, err := f.Await()
		if err != nil || got != "once" {
			t.Fatalf("await %d: got %q, %v", i, got, err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("the computation must run exactly once, ran %d times", calls)
	}
}

func TestFuture_AwaitPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	f := asyncx.Run(func() (int, error) {
		return 0, boom
	})

	if _, err := f.Await(); !errors.Is(err, boom) {
		t.Fatalf("expected the computation error, got %v", err)
	}
}

func TestDoCtx_SkipsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := make(chan struct{}, 1)
	asyncx.DoCtx(ctx, func(context.Context) {
		ran <- struct{}{}
	})

	select {
	case <-ran:
		t.Fatal("callback must not run once the context is done")
	case <-time.After(50 * time.Millisecond):
	}
}
