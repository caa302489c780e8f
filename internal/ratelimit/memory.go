package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucketKey struct {
	clientID string
	endpoint string
}

type bucket struct {
	attempts []time.Time
	window   time.Duration
}

// MemoryLimiter はプロセス内メモリに試行時刻を保持するレート制限です。
// 他プロセスとは共有されず、再起動で状態は失われます。
type MemoryLimiter struct {
	lock    sync.Mutex
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Allow はウィンドウ外の試行を削除してから件数を数え、上限未満なら今回の試行を記録します。
func (m *MemoryLimiter) Allow(_ context.Context, clientID, endpoint string, rule Rule) (Decision, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	key := bucketKey{clientID: clientID, endpoint: endpoint}
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}
	b.window = rule.Window
	b.attempts = purge(b.attempts, now.Add(-rule.Window))

	if len(b.attempts) >= rule.MaxAttempts {
		retryAfter := time.Duration(0)
		if len(b.attempts) > 0 {
			retryAfter = b.attempts[0].Add(rule.Window).Sub(now)
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	b.attempts = append(b.attempts, now)
	return Decision{Allowed: true}, nil
}

// Sweep は全キーを掃除し、試行が残っていないキーを削除します。削除したキー数を返します。
func (m *MemoryLimiter) Sweep() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	removed := 0
	for key, b := range m.buckets {
		b.attempts = purge(b.attempts, now.Add(-b.window))
		if len(b.attempts) == 0 {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len は保持しているキー数を返します。
func (m *MemoryLimiter) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.buckets)
}

// Reset はすべての状態を破棄します。
func (m *MemoryLimiter) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.buckets = make(map[bucketKey]*bucket)
}

// purge は cutoff より新しい試行だけを残します。試行は時刻順に並んでいます。
func purge(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append(attempts[:0], attempts[i:]...)
}

var _ Limiter = (*MemoryLimiter)(nil)
