package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type bucket struct {
	remaining int
	resetAt   time.Time
}

// MemoryLimiter — лимитер на процесс. Бюджеты не разделяются между инстансами.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// MemoryOption настраивает MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Consume списывает пункт. Корзина создаётся лениво; по достижении resetAt
// окно начинается заново с полным бюджетом.
func (l *MemoryLimiter) Consume(_ context.Context, key string, p Policy) (Result, error) {
	const op = "ratelimit.memory.Consume"

	if err := p.validate(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	k := bucketKey(p, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[k]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{remaining: p.Points, resetAt: now.Add(p.Window)}
		l.buckets[k] = b
	}

	if b.remaining <= 0 {
		return Result{
			Allowed:    false,
			RetryAfter: b.resetAt.Sub(now),
			ResetAt:    b.resetAt,
		}, nil
	}

	b.remaining--

	return Result{
		Allowed:   true,
		Remaining: b.remaining,
		ResetAt:   b.resetAt,
	}, nil
}

// Sweep удаляет корзины с истёкшим окном и возвращает их число.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
			n++
		}
	}

	return n
}

// Len — число активных корзин.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

// RunJanitor периодически вызывает Sweep до отмены ctx. Блокирует вызывающего.
func (l *MemoryLimiter) RunJanitor(ctx context.Context, period time.Duration, log *slog.Logger) {
	if period <= 0 {
		return
	}

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(l.now()); n > 0 {
				log.Debug("ratelimit_sweep", slog.Int("removed", n))
			}
		}
	}
}
