package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"trustchain.dev/trustchain/core/result"
	"trustchain.dev/trustchain/internal/telemetry"
)

// Handler processes one inbound Task and returns the usual core result:
// Handled/Replay/Err (spec.md §7).
type Handler interface {
	Dispatch(t Task) result.Result
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(t Task) result.Result

func (f HandlerFunc) Dispatch(t Task) result.Result { return f(t) }

// Loop is the single-threaded core dispatch loop: it owns the Queue and
// is the only goroutine ever calling into Handler, preserving the "one
// core-task goroutine" invariant of spec.md §7 while per-peer read loops
// run concurrently and only ever call Queue.Push.
//
// Grounded on the teacher's node/p2p.Peer.Run (a goroutine reading off a
// connection until ctx.Done()), generalised from one goroutine per peer to
// an errgroup supervising N peer readers plus the single core-loop
// goroutine, so the first fatal error (or ctx cancellation) tears the
// whole node down together.
type Loop struct {
	queue   *Queue
	handler Handler
	logger  *telemetry.Logger
	meter   *telemetry.CostMeter
}

func NewLoop(queue *Queue, handler Handler, logger *telemetry.Logger, meter *telemetry.CostMeter) *Loop {
	return &Loop{queue: queue, handler: handler, logger: logger, meter: meter}
}

// Run drives the core loop until ctx is cancelled or the queue is closed.
func (l *Loop) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.queue.Close()
		case <-stop:
		}
	}()

	for {
		t, ok := l.queue.Pop()
		if !ok {
			return ctx.Err()
		}
		if l.meter != nil {
			l.meter.Record(t.Env.Tag.String(), len(t.Env.Payload))
		}
		r := l.handler.Dispatch(t)
		switch {
		case r.IsReplay():
			l.queue.Push(t)
		case r.IsErr():
			if l.logger != nil {
				l.logger.Warn("dispatch: tag=%s from=%s: %v", t.Env.Tag, t.From, r.Error())
			}
		}
	}
}

// Supervise runs Loop.Run alongside a set of peer read-loop goroutines
// under one errgroup, so any fatal error or ctx cancellation stops the
// whole group together.
func Supervise(ctx context.Context, loop *Loop, peerLoops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	for _, pl := range peerLoops {
		pl := pl
		g.Go(func() error { return pl(gctx) })
	}
	return g.Wait()
}
