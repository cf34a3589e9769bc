package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"trustchain.dev/trustchain/core/result"
)

func TestQueuePushPopFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(Task{Env: Envelope{Tag: TagPing}})
	q.Push(Task{Env: Envelope{Tag: TagPong}})
	first, ok := q.Pop()
	if !ok || first.Env.Tag != TagPing {
		t.Fatalf("expected Ping first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Pop()
	if !ok || second.Env.Tag != TagPong {
		t.Fatalf("expected Pong second, got %+v ok=%v", second, ok)
	}
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Pop to report ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not unblock after Close")
	}
}

func TestLoopReplaysUntilHandled(t *testing.T) {
	q := NewQueue()
	var attempts int32
	handler := HandlerFunc(func(t Task) result.Result {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return result.Replay()
		}
		return result.Handled()
	})
	loop := NewLoop(q, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	q.Push(Task{Env: Envelope{Tag: TagDummy}})

	go func() {
		for atomic.LoadInt32(&attempts) < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		t.Fatalf("loop run: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestSuperviseStopsOnPeerError(t *testing.T) {
	q := NewQueue()
	loop := NewLoop(q, HandlerFunc(func(t Task) result.Result { return result.Handled() }), nil, nil)

	failingPeer := func(ctx context.Context) error {
		return context.DeadlineExceeded
	}

	err := Supervise(context.Background(), loop, failingPeer)
	if err == nil {
		t.Fatalf("expected Supervise to propagate the peer loop's error")
	}
}
