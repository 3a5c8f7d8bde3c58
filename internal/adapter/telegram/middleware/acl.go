package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsched/internal/adapter/telegram"
)

// ACL пропускает только апдейты из разрешённых чатов
type ACL struct{ allowed map[int64]struct{} }

// NewACL создаёт ACL по списку chat ID
func NewACL(ids ...int64) *ACL {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	return &ACL{allowed: m}
}

// IsAllowed сообщает, разрешён ли чат
func (a *ACL) IsAllowed(chatID int64) bool { _, ok := a.allowed[chatID]; return ok }

// Middleware молча игнорирует апдейты из чужих чатов: бот управляет задачами,
// отвечать посторонним незачем
func (a *ACL) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, s telegram.Sender, upd *models.Update) {
		if a.IsAllowed(telegram.ChatID(upd)) {
			next(ctx, s, upd)
		}
	}
}

// ParseIDs парсит список ID из строки (разделители: запятая/пробелы)
func ParseIDs(s string) ([]int64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// deny is used by middlewares that answer the user.
func deny(ctx context.Context, s telegram.Sender, chatID int64, text string) {
	if chatID != 0 && s != nil {
		_, _ = s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	}
}
