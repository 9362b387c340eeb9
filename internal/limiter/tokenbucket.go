// Package limiter 提供每條連線的訊息限流。
//
// 每個 WebSocket 連線持有一個令牌桶：
//   - 容量決定能容忍的突發（例如一口氣貼上大量文字觸發的 type 訊息）
//   - 填充速率決定長時間的平均訊息數
//
// 超限的訊息只會被丟棄並回覆錯誤，不會中斷連線。
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器
//
// 令牌以浮點數累積，低速率時不會因為取整而永遠補不到一個令牌。
type TokenBucket struct {
	capacity   float64   // 桶容量（最多存放多少令牌）
	tokens     float64   // 當前令牌數
	refillRate float64   // 填充速率（每秒填充多少令牌）
	lastRefill time.Time // 上次填充時間
	now        func() time.Time
	mu         sync.Mutex
}

// Option 令牌桶選項
type Option func(*TokenBucket)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) Option {
	return func(tb *TokenBucket) { tb.now = now }
}

// NewTokenBucket 建立新的令牌桶限流器。
//
// 範例：
//
//	limiter := NewTokenBucket(20, 10)  // 可突發 20 則，平均每秒 10 則
//	limiter.Allow()
func NewTokenBucket(capacity, refillRate int64, opts ...Option) *TokenBucket {
	tb := &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity), // 初始化時桶是滿的
		refillRate: float64(refillRate),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tb)
	}
	tb.lastRefill = tb.now()
	return tb
}

// Allow 取出一個令牌，沒有令牌時回傳 false
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 返回當前可用的完整令牌數（用於監控）
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return int64(tb.tokens)
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}
