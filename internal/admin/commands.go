package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/screening-bot/internal/interview"
	"github.com/ashureev/screening-bot/internal/report"
	"github.com/ashureev/screening-bot/internal/store"
)

// Chat command names.
const (
	CommandApprove = "approve"
	CommandRevoke  = "revoke"
	CommandReport  = "report"
	CommandExport  = "export"
	CommandPending = "pending"
)

// maxMessageRunes stays under the Bot API limit of 4096 characters.
const maxMessageRunes = 4000

// IsAdminCommand reports whether name is one of the admin chat commands.
func IsAdminCommand(name string) bool {
	switch name {
	case CommandApprove, CommandRevoke, CommandReport, CommandExport, CommandPending:
		return true
	}
	return false
}

// Commands handles admin chat commands.
type Commands struct {
	service    *Service
	allowlist  Allowlist
	sender     interview.Sender
	questions  []string
	exportPath string
	logger     *slog.Logger
}

// NewCommands creates the chat command handler.
func NewCommands(service *Service, allowlist Allowlist, sender interview.Sender, questions []string, exportPath string, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		service:    service,
		allowlist:  allowlist,
		sender:     sender,
		questions:  questions,
		exportPath: exportPath,
		logger:     logger,
	}
}

// HandleCommand runs an admin command. It returns false for commands that
// are not admin commands so the caller can route them elsewhere. Commands
// from users outside the allow-list are consumed without a reply.
func (c *Commands) HandleCommand(ctx context.Context, ev interview.Event) bool {
	if ev.Kind != interview.EventCommand || !IsAdminCommand(ev.Command) {
		return false
	}
	if err := c.allowlist.Check(ev.From.TelegramID); err != nil {
		c.logger.Warn("admin command rejected", "telegram_id", ev.From.TelegramID, "command", ev.Command, "error", err)
		return true
	}

	reply, err := c.run(ctx, ev)
	if err != nil {
		c.logger.Error("admin command failed", "telegram_id", ev.From.TelegramID, "command", ev.Command, "error", err)
		reply = userMessage(err)
	}
	c.reply(ctx, ev.ChatID, reply)
	return true
}

func (c *Commands) run(ctx context.Context, ev interview.Event) (string, error) {
	switch ev.Command {
	case CommandApprove, CommandRevoke, CommandReport:
		if len(ev.Args) != 1 {
			return fmt.Sprintf("Usage: /%s <telegram_id>", ev.Command), nil
		}
		id, err := ParseTelegramID(ev.Args[0])
		if err != nil {
			return err.Error(), nil
		}
		return c.runForUser(ctx, ev.Command, id)
	case CommandExport:
		n, err := c.service.ExportFile(ctx, c.exportPath)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Exported %d candidates to %s", n, c.exportPath), nil
	case CommandPending:
		candidates, err := c.service.Pending(ctx)
		if err != nil {
			return "", err
		}
		if len(candidates) == 0 {
			return "No candidates are waiting for approval.", nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Waiting for approval (%d):\n", len(candidates))
		for _, cand := range candidates {
			fmt.Fprintf(&b, "%d %s\n", cand.Identity.TelegramID, cand.Identity.DisplayName())
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unhandled command %q", ev.Command)
}

func (c *Commands) runForUser(ctx context.Context, command string, telegramID int64) (string, error) {
	switch command {
	case CommandApprove:
		cand, err := c.service.Approve(ctx, telegramID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved %d (candidate #%d).", telegramID, cand.ID), nil
	case CommandRevoke:
		cand, err := c.service.Revoke(ctx, telegramID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Revoked %d (candidate #%d).", telegramID, cand.ID), nil
	default:
		r, err := c.service.Report(ctx, telegramID)
		if err != nil {
			return "", err
		}
		return report.Text(r, c.questions), nil
	}
}

func (c *Commands) reply(ctx context.Context, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if err := c.sender.SendMessage(ctx, chatID, part, interview.SendOptions{DisableWebPagePreview: true}); err != nil {
			c.logger.Warn("failed to send admin reply", "chat_id", chatID, "error", err)
			return
		}
	}
}

func userMessage(err error) string {
	if errors.Is(err, store.ErrCandidateNotFound) {
		return "No such candidate."
	}
	return "The command failed, check the server log."
}

// splitMessage cuts text into parts of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
