package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guysoft/craftbeerpibot/internal/ports"
	"github.com/guysoft/craftbeerpibot/internal/telegram"
	"github.com/guysoft/craftbeerpibot/internal/telemetry"
)

const (
	startReply  = "I'm a bot to do stuff with CraftBeerPi, please type /help for info"
	historySize = 5
)

var helpCommands = [][2]string{
	{"/status", "Check temps status"},
	{"/timezone", "Set the timezone (only works if sudo requires no password)"},
	{"/time", "Print time and timezone on device"},
	{"/history", "Show recent timezone changes"},
	{"/help", "Get this message"},
}

type BotOptions struct {
	TelemetryLogDir     string
	TelemetryLogPattern string
}

type BotService struct {
	logger      *slog.Logger
	telegramAPI ports.TelegramClient
	runner      ports.CommandRunner
	history     ports.TimezoneHistoryRepository
	flow        *TimezoneFlow
	queue       *KeyedQueue
	opts        BotOptions
}

func NewBotService(
	logger *slog.Logger,
	telegramClient ports.TelegramClient,
	runner ports.CommandRunner,
	history ports.TimezoneHistoryRepository,
	flow *TimezoneFlow,
	opts BotOptions,
) *BotService {
	return &BotService{
		logger:      logger,
		telegramAPI: telegramClient,
		runner:      runner,
		history:     history,
		flow:        flow,
		queue:       NewKeyedQueue(),
		opts:        opts,
	}
}

// HandleUpdate dispatches one update. Updates from the same user in the
// same chat are processed in arrival order, one at a time.
func (s *BotService) HandleUpdate(ctx context.Context, update telegram.Update) {
	if update.Message == nil {
		return
	}
	message := *update.Message
	if message.Chat.ID == 0 {
		return
	}
	if strings.TrimSpace(message.Text) == "" {
		return
	}

	err := s.queue.Run(ctx, sessionKey(message), func(ctx context.Context) error {
		return s.dispatch(ctx, message)
	})
	if err != nil {
		s.HandleError(err)
	}
}

func (s *BotService) dispatch(ctx context.Context, message telegram.Message) error {
	text := strings.TrimSpace(message.Text)
	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, message)
	}

	handled, err := s.flow.HandleText(ctx, message)
	if err != nil {
		return err
	}
	if !handled {
		s.logger.Debug("ignoring text outside a conversation", "chat_id", message.Chat.ID)
	}
	return nil
}

func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

func (s *BotService) handleCommand(ctx context.Context, message telegram.Message) error {
	switch name := commandName(message.Text); name {
	case "start":
		return s.telegramAPI.SendMessage(ctx, message.Chat.ID, startReply)
	case "help":
		return s.handleHelp(ctx, message)
	case "time":
		return s.handleTime(ctx, message)
	case "status":
		return s.handleStatus(ctx, message)
	case "history":
		return s.handleHistory(ctx, message)
	case "timezone":
		return s.flow.Start(ctx, message)
	case "cancel":
		return s.flow.Cancel(ctx, message)
	default:
		s.logger.Debug("ignoring unknown command", "command", name, "chat_id", message.Chat.ID)
		return nil
	}
}

func (s *BotService) handleHelp(ctx context.Context, message telegram.Message) error {
	var b strings.Builder
	b.WriteString(icon(":information_source:"))
	b.WriteString("The following commands are available:\n")
	for _, command := range helpCommands {
		b.WriteString(command[0] + " " + command[1] + "\n")
	}
	return s.telegramAPI.SendMessage(ctx, message.Chat.ID, b.String())
}

func (s *BotService) handleTime(ctx context.Context, message telegram.Message) error {
	result, err := s.runner.Run(ctx, "date")
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		s.logger.Warn("date exited with error", "exit_code", result.ExitCode, "stderr", result.Stderr)
	}
	reply := result.Stdout
	if strings.TrimSpace(reply) == "" {
		reply = result.Stderr
	}
	if strings.TrimSpace(reply) == "" {
		reply = "date printed nothing"
	}
	return s.telegramAPI.SendMessage(ctx, message.Chat.ID, reply)
}

func (s *BotService) handleStatus(ctx context.Context, message telegram.Message) error {
	readings, err := telemetry.ReadAll(s.opts.TelemetryLogDir, s.opts.TelemetryLogPattern)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Temps status :\n")
	if len(readings) == 0 {
		b.WriteString("(no sensor logs in " + s.opts.TelemetryLogDir + ")\n")
	}
	for _, reading := range readings {
		if reading.Err != nil {
			s.logger.Warn("read sensor log failed", "file", reading.Path, "error", reading.Err)
			b.WriteString(reading.Name + ": unavailable\n")
			continue
		}
		b.WriteString(reading.Name + ": " + reading.Sample.String() + "\n")
	}
	return s.telegramAPI.SendMessage(ctx, message.Chat.ID, b.String())
}

func (s *BotService) handleHistory(ctx context.Context, message telegram.Message) error {
	if s.history == nil {
		return s.telegramAPI.SendMessage(ctx, message.Chat.ID, "Timezone history is not available.")
	}
	changes, err := s.history.ListTimezoneChanges(ctx, historySize)
	if err != nil {
		return fmt.Errorf("list timezone changes: %w", err)
	}
	if len(changes) == 0 {
		return s.telegramAPI.SendMessage(ctx, message.Chat.ID, "No timezone changes recorded yet.")
	}

	lines := make([]string, 0, len(changes)+1)
	lines = append(lines, "Recent timezone changes:")
	for _, change := range changes {
		lines = append(lines, fmt.Sprintf("%s %s (exit %d)",
			change.AppliedAt.UTC().Format("2006-01-02 15:04 UTC"), change.Timezone, change.ExitCode))
	}
	return s.telegramAPI.SendMessage(ctx, message.Chat.ID, strings.Join(lines, "\n"))
}

// HandleError is the single sink for handler and polling errors. Every
// kind is logged and dropped: nothing is retried and the user is not told.
func (s *BotService) HandleError(err error) {
	switch kind := telegram.KindOf(err); kind {
	case telegram.KindNone:
		return
	case telegram.KindUnauthorized:
		s.logger.Warn("telegram refused the bot", "kind", kind.String(), "error", err)
	case telegram.KindBadRequest:
		s.logger.Warn("telegram rejected request", "kind", kind.String(), "error", err)
	case telegram.KindTimedOut:
		s.logger.Info("telegram request timed out", "kind", kind.String(), "error", err)
	case telegram.KindNetwork:
		s.logger.Info("telegram network error", "kind", kind.String(), "error", err)
	case telegram.KindChatMigrated:
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			s.logger.Warn("chat migrated", "kind", kind.String(), "new_chat_id", apiErr.MigrateToChatID)
			return
		}
		s.logger.Warn("chat migrated", "kind", kind.String(), "error", err)
	case telegram.KindGeneric:
		s.logger.Error("handler failed", "kind", kind.String(), "error", err)
	default:
		s.logger.Error("unclassified error", "kind", kind.String(), "error", err)
	}
}
