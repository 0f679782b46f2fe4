package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Limiter 是进程内滑动窗口限流器。每个身份保留窗口内的请求时间戳，
// 达到上限时拒绝且不留痕，被拒请求不会挤占后续窗口。
type Limiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	window time.Duration
	max    int
	nowFn  func() time.Time
}

func NewLimiter(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 5000
	}
	return &Limiter{
		hits:   make(map[string][]time.Time),
		window: window,
		max:    max,
		nowFn:  time.Now,
	}
}

// SetNowFunc 注入时钟，仅用于测试。
func (l *Limiter) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		l.nowFn = fn
	}
}

// Admit 判断 identity 的本次请求是否放行。
func (l *Limiter) Admit(identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	now := l.nowFn()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.hits[identity]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.hits[identity] = kept
		return false
	}
	l.hits[identity] = append(kept, now)
	return true
}

// Pending 返回 identity 当前窗口内的计数，供观测使用。
func (l *Limiter) Pending(identity string) int {
	now := l.nowFn()
	cutoff := now.Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.hits[strings.TrimSpace(identity)] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
