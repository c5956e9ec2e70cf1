package runner

import (
	"context"
	"path/filepath"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// ProductLimiter caps concurrent invocations per product, keyed by the
// executable's base name. Products without a positive limit are unlimited.
type ProductLimiter struct {
	sems map[string]chan struct{}
}

// NewProductLimiter creates a limiter from product name → max concurrency.
func NewProductLimiter(limits map[string]int) *ProductLimiter {
	sems := make(map[string]chan struct{})
	for name, limit := range limits {
		if limit > 0 {
			sems[name] = make(chan struct{}, limit)
		}
	}
	return &ProductLimiter{sems: sems}
}

// Acquire blocks until a slot for product is free or ctx is done.
// The returned release func must be called exactly once.
func (pl *ProductLimiter) Acquire(ctx context.Context, product string) (func(), error) {
	sem, ok := pl.sems[filepath.Base(product)]
	if !ok {
		return func() {}, nil
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Limit wraps r so every Execute holds a slot for its product.
func (pl *ProductLimiter) Limit(r analysis.ProcessRunner) analysis.ProcessRunner {
	if len(pl.sems) == 0 {
		return r
	}
	return analysis.RunnerFunc(func(ctx context.Context, d analysis.Descriptor, dir string) (*analysis.CmdResult, error) {
		release, err := pl.Acquire(ctx, d.Product)
		if err != nil {
			return nil, analysis.Environment("wait for "+filepath.Base(d.Product)+" slot", err)
		}
		defer release()
		return r.Execute(ctx, d, dir)
	})
}
