package auth

import (
	"sync"
	"time"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attempts struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// loginLimiter は接続元ごとのログイン失敗を数え、上限に達した接続元を一定時間締め出します。
type loginLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*attempts
}

func newLoginLimiter(now func() time.Time) *loginLimiter {
	return &loginLimiter{now: now, entries: make(map[string]*attempts)}
}

// lockedFor はロック中なら残り時間を返します。
func (l *loginLimiter) lockedFor(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.entries[key]
	if !ok {
		return 0
	}
	if remaining := a.lockedUntil.Sub(l.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// fail は失敗を1回記録し、ロックまでの残り回数を返します。
func (l *loginLimiter) fail(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	a, ok := l.entries[key]
	if !ok || now.Sub(a.windowStart) > loginWindow {
		a = &attempts{windowStart: now}
		l.entries[key] = a
	}
	a.count++
	if a.count >= maxLoginAttempts {
		a.count = maxLoginAttempts
		a.lockedUntil = now.Add(lockDuration)
	}
	return maxLoginAttempts - a.count
}

func (l *loginLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// prune は窓もロックも過ぎたエントリを捨てます。呼び出し側でロックを取ること。
func (l *loginLimiter) prune(now time.Time) {
	for key, a := range l.entries {
		if now.Sub(a.windowStart) > loginWindow && !now.Before(a.lockedUntil) {
			delete(l.entries, key)
		}
	}
}
