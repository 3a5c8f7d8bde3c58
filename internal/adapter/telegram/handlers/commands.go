// Package handlers implements the bot commands operating on jobs.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsched/internal/adapter/telegram"
	"jobsched/internal/job"
)

// Commands answers /ping, /jobs, /run and /cancel.
type Commands struct {
	jobs   *job.Registry
	logger *slog.Logger
}

// NewCommands creates command handlers over the registry.
func NewCommands(jobs *job.Registry, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{jobs: jobs, logger: logger.With("component", "telegram_commands")}
}

// Handle routes updates to command handlers.
func (c *Commands) Handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	fields := strings.Fields(msg.Text)
	// "/run@mybot backup" -> "run"
	cmd, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	args := fields[1:]

	var reply string
	switch cmd {
	case "start", "ping":
		reply = "pong"
	case "jobs":
		reply = c.list()
	case "run":
		reply = c.run(args)
	case "cancel":
		reply = c.cancel(args)
	default:
		reply = "команды: /jobs, /run <job>, /cancel <job> <run>"
	}

	if _, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		c.logger.Warn("send reply", "command", cmd, "error", err)
	}
}

func (c *Commands) list() string {
	jobs := c.jobs.List()
	if len(jobs) == 0 {
		return "задач нет"
	}
	var b strings.Builder
	for _, j := range jobs {
		if last := j.LastRun(); last != nil {
			fmt.Fprintf(&b, "%s: %s %s\n", j.Name(), last.ID(), last.State())
		} else {
			fmt.Fprintf(&b, "%s: no runs\n", j.Name())
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (c *Commands) run(args []string) string {
	if len(args) != 1 {
		return "usage: /run <job>"
	}
	j, err := c.jobs.Get(args[0])
	if err != nil {
		return err.Error()
	}
	r, err := j.StartRun()
	if err != nil {
		return err.Error()
	}
	c.logger.Info("manual run started", "job", j.Name(), "run", r.ID())
	return "started " + r.ID()
}

func (c *Commands) cancel(args []string) string {
	if len(args) != 2 {
		return "usage: /cancel <job> <run>"
	}
	j, err := c.jobs.Get(args[0])
	if err != nil {
		return err.Error()
	}
	r, err := j.Run(args[1])
	if err != nil {
		return err.Error()
	}
	if err := r.Cancel(); err != nil {
		return err.Error()
	}
	return "cancelled " + r.ID()
}
