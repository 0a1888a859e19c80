package crypto

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Observer receives hashing durations. op is "hash" or "verify".
type Observer interface {
	ObserveHash(op string, d time.Duration)
}

// Pool runs password hashing off the request path with bounded concurrency, so a
// burst of logins cannot pin every CPU and starve request intake.
type Pool struct {
	hasher   *Argon2
	slots    *semaphore.Weighted
	observer Observer
}

func NewPool(hasher *Argon2, workers int, observer Observer) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		hasher:   hasher,
		slots:    semaphore.NewWeighted(int64(workers)),
		observer: observer,
	}
}

func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.slots.Release(1)

	start := time.Now()
	digest, err := p.hasher.Hash(password)
	p.observe("hash", start)
	return digest, err
}

// Verify only fails when ctx ends before a slot frees up; a mismatch or a
// malformed digest is (false, nil).
func (p *Pool) Verify(ctx context.Context, password, digest string) (bool, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.slots.Release(1)

	start := time.Now()
	ok := p.hasher.Verify(password, digest)
	p.observe("verify", start)
	return ok, nil
}

func (p *Pool) NeedsRehash(digest string) bool {
	return p.hasher.NeedsRehash(digest)
}

func (p *Pool) observe(op string, start time.Time) {
	if p.observer != nil {
		p.observer.ObserveHash(op, time.Since(start))
	}
}
