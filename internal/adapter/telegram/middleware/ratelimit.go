package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"jobsched/internal/adapter/telegram"
)

// RateLimiter restricts command frequency per chat.
type RateLimiter struct {
	mu   sync.Mutex
	last map[int64]time.Time
	rate time.Duration
	now  func() time.Time
}

// NewRateLimiter creates limiter with given rate.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[int64]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if the chat hits the limit.
func (r *RateLimiter) Allow(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if t, ok := r.last[chatID]; ok && now.Sub(t) < r.rate {
		return false
	}
	r.last[chatID] = now
	return true
}

// Middleware checks rate limit before calling next handler.
func (r *RateLimiter) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		chat := telegram.ChatID(upd)
		if chat != 0 && !r.Allow(chat) {
			deny(ctx, s, chat, "слишком часто")
			return
		}
		next(ctx, s, upd)
	}
}
