package osp

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jaseci-labs/osp/internal/ctxlog"
)

// Dispatcher submits work for execution and is responsible for running submitted functions.
type Dispatcher interface {
	Submit(func())
	Stop()
}

// goroutineDispatcher runs every submitted unit on its own goroutine.
type goroutineDispatcher struct{}

func (goroutineDispatcher) Submit(fn func()) {
	go fn()
}

func (goroutineDispatcher) Stop() {}

// Thread is the handle of a unit of work started with ThreadRun.
type Thread[T any] struct {
	id    uuid.UUID
	done  chan struct{}
	value T
	err   error
}

// ThreadRun submits fn to the runtime dispatcher and returns immediately.
// fn typically spawns an independent walk; each walk still runs on a single
// goroutine. A panic in fn is returned by Wait as a *ThreadPanicError.
func ThreadRun[T any](ctx context.Context, rt *Runtime, fn func(context.Context) (T, error)) *Thread[T] {
	th := &Thread[T]{
		id:   newID(),
		done: make(chan struct{}),
	}
	logger := ctxlog.FromContext(ctx, rt.logger).With(slog.String("thread", th.id.String()))
	ctx = ctxlog.WithLogger(ctx, logger)

	rt.dispatcher.Submit(func() {
		defer close(th.done)
		defer func() {
			if recovered := recover(); recovered != nil {
				th.err = &ThreadPanicError{Thread: th.id, Value: recovered}
				logger.Error("thread panicked", slog.Any("panic", recovered))
			}
		}()
		th.value, th.err = fn(ctx)
	})
	return th
}

// ID returns the thread id.
func (th *Thread[T]) ID() uuid.UUID {
	return th.id
}

// Done is closed when the unit has completed.
func (th *Thread[T]) Done() <-chan struct{} {
	return th.done
}

// Wait blocks until the unit completes and returns its result.
func (th *Thread[T]) Wait() (T, error) {
	<-th.done
	return th.value, th.err
}

// WaitContext is Wait bounded by ctx. The unit keeps running when ctx ends
// first.
func (th *Thread[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-th.done:
		return th.value, th.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ThreadWait blocks until th completes and returns its result.
func ThreadWait[T any](th *Thread[T]) (T, error) {
	return th.Wait()
}

// ThreadWaitAll waits for every thread and returns their values in argument
// order with the first error observed, or ctx's error if it ends first.
func ThreadWaitAll[T any](ctx context.Context, threads ...*Thread[T]) ([]T, error) {
	values := make([]T, len(threads))
	g, gctx := errgroup.WithContext(ctx)
	for i, th := range threads {
		g.Go(func() error {
			v, err := th.WaitContext(gctx)
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return values, err
	}
	return values, nil
}
