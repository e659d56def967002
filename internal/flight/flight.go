// Package flight coalesces concurrent calls for the same key into one
// execution whose result every caller receives.
package flight

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one fn per key at a time.
type Group[T any] struct {
	group    singleflight.Group
	calls    atomic.Int64
	inFlight atomic.Int64
}

// Do executes fn once for all concurrent callers sharing key. The work runs
// detached from any single caller's cancellation so an abandoning caller
// cannot fail the others; a caller whose ctx ends stops waiting and gets
// ctx.Err(). shared reports whether the result went to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	workCtx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (result any, err error) {
		g.calls.Add(1)
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("flight %q panicked: %v", key, r)
			}
		}()
		return fn(workCtx)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(T)
		return v, res.Shared, nil
	}
}

// Forget drops key so the next Do starts a fresh execution.
func (g *Group[T]) Forget(key string) {
	g.group.Forget(key)
}

// Calls returns how many times an fn has actually been executed.
func (g *Group[T]) Calls() int64 {
	return g.calls.Load()
}

// InFlight returns the number of executions currently running.
func (g *Group[T]) InFlight() int64 {
	return g.inFlight.Load()
}
