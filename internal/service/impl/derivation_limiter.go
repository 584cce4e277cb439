package impl

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// derivationLimiter caps how many argon2 derivations run at once. Each one
// holds Memory KiB for its duration, so unbounded fan-out is a memory DoS.
type derivationLimiter struct {
	sem *semaphore.Weighted
}

func newDerivationLimiter(n int) *derivationLimiter {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &derivationLimiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *derivationLimiter) acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *derivationLimiter) release() {
	l.sem.Release(1)
}
