// Package middleware guards the job commands of the bot: only allowed chats
// may use them, and each chat is rate limited.
package middleware

import "jobsched/internal/adapter/telegram"

// Middleware decorates a command handler, e.g. to refuse a /run from an
// unknown chat before it reaches the registry.
type Middleware func(telegram.HandlerFunc) telegram.HandlerFunc

// Chain wraps h so that mws[0] sees an update first. The daemon chains
// ACL before the rate limiter, so denied chats do not consume the limit.
func Chain(h telegram.HandlerFunc, mws ...Middleware) telegram.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
