package service

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/guysoft/craftbeerpibot/internal/domain"
	"github.com/guysoft/craftbeerpibot/internal/ports"
	"github.com/guysoft/craftbeerpibot/internal/telegram"
	"github.com/guysoft/craftbeerpibot/internal/timezone"
	"github.com/kyokomi/emoji/v2"
)

const (
	cancelCommand = "/cancel"
	closeLabel    = "Close"

	cancelReply     = "Perhaps another time"
	continentPrompt = "Please select a continent, or /cancel to cancel:"
	zonePrompt      = "Please select a timezone, or /cancel to cancel:"
)

type TimezoneFlowOptions struct {
	ZoneInfoDir    string
	Script         string
	ElevateCommand string
}

// TimezoneFlow walks a user through picking a continent, then a zone, and
// applies the result with the helper script.
type TimezoneFlow struct {
	logger      *slog.Logger
	telegramAPI ports.TelegramClient
	runner      ports.CommandRunner
	history     ports.TimezoneHistoryRepository
	catalog     *timezone.Catalog
	sessions    *SessionStore
	opts        TimezoneFlowOptions
}

func NewTimezoneFlow(
	logger *slog.Logger,
	telegramClient ports.TelegramClient,
	runner ports.CommandRunner,
	history ports.TimezoneHistoryRepository,
	catalog *timezone.Catalog,
	sessions *SessionStore,
	opts TimezoneFlowOptions,
) *TimezoneFlow {
	return &TimezoneFlow{
		logger:      logger,
		telegramAPI: telegramClient,
		runner:      runner,
		history:     history,
		catalog:     catalog,
		sessions:    sessions,
		opts:        opts,
	}
}

func isCancelToken(text string) bool {
	return text == cancelCommand || text == closeLabel
}

func sessionKey(message telegram.Message) domain.SessionKey {
	return domain.SessionKey{ChatID: message.Chat.ID, UserID: message.From.ID}
}

// Active reports whether the sender of message is in the middle of a flow.
func (f *TimezoneFlow) Active(message telegram.Message) bool {
	_, ok := f.sessions.Get(sessionKey(message))
	return ok
}

// Start begins a fresh flow, discarding any earlier one for the sender.
func (f *TimezoneFlow) Start(ctx context.Context, message telegram.Message) error {
	key := sessionKey(message)
	f.sessions.Put(domain.ConversationSession{Key: key, State: domain.StateAwaitingContinent})
	return f.promptContinent(ctx, message.Chat.ID, continentPrompt)
}

// Cancel ends the sender's flow. The reply is the same whether or not a
// flow was active.
func (f *TimezoneFlow) Cancel(ctx context.Context, message telegram.Message) error {
	f.sessions.Delete(sessionKey(message))
	return f.telegramAPI.SendMessageWithMarkup(ctx, message.Chat.ID, cancelReply, telegram.RemoveKeyboard())
}

// HandleText feeds a non-command reply into the sender's flow. It returns
// false when the sender has no active flow.
func (f *TimezoneFlow) HandleText(ctx context.Context, message telegram.Message) (bool, error) {
	key := sessionKey(message)
	session, ok := f.sessions.Get(key)
	if !ok {
		return false, nil
	}

	text := strings.TrimSpace(message.Text)
	if isCancelToken(text) {
		return true, f.Cancel(ctx, message)
	}

	switch session.State {
	case domain.StateAwaitingContinent:
		return true, f.selectContinent(ctx, message, session, text)
	case domain.StateAwaitingZone:
		return true, f.selectZone(ctx, message, session, text)
	default:
		f.sessions.Delete(key)
		return false, nil
	}
}

func (f *TimezoneFlow) selectContinent(ctx context.Context, message telegram.Message, session domain.ConversationSession, continent string) error {
	if !f.catalog.HasContinent(continent) {
		f.sessions.Put(session)
		return f.promptContinent(ctx, message.Chat.ID, "Unknown continent: "+continent+"\n"+continentPrompt)
	}

	session.State = domain.StateAwaitingZone
	session.SelectedContinent = continent
	f.sessions.Put(session)

	labels := append(f.catalog.Zones(continent), closeLabel)
	return f.telegramAPI.SendMessageWithMarkup(ctx, message.Chat.ID, zonePrompt, telegram.OneTimeKeyboard(labels...))
}

func (f *TimezoneFlow) selectZone(ctx context.Context, message telegram.Message, session domain.ConversationSession, zone string) error {
	f.sessions.Delete(session.Key)
	id := timezone.Identifier(session.SelectedContinent, zone)

	if !timezone.Exists(f.opts.ZoneInfoDir, id) {
		f.logger.Info("timezone file missing", "timezone", id, "chat_id", message.Chat.ID)
		return f.reply(ctx, message.Chat.ID, icon(":no_entry_sign:")+"Timezone file does not exist: "+id)
	}
	if _, err := os.Stat(f.opts.Script); err != nil {
		f.logger.Error("timezone helper script missing", "script", f.opts.Script, "error", err)
		return f.reply(ctx, message.Chat.ID, icon(":no_entry_sign:")+"Timezone helper script not found")
	}

	name, args := f.helperCommand(id)
	result, err := f.runner.Run(ctx, name, args...)
	exitCode := result.ExitCode
	if err != nil {
		exitCode = -1
		f.logger.Error("timezone helper failed to start", "timezone", id, "error", err)
	} else {
		f.logger.Info("timezone helper finished",
			"timezone", id,
			"exit_code", result.ExitCode,
			"stdout", result.Stdout,
			"stderr", result.Stderr,
		)
	}

	if f.history != nil {
		change := domain.TimezoneChange{
			ChatID:    message.Chat.ID,
			UserID:    message.From.ID,
			Timezone:  id,
			ExitCode:  exitCode,
			AppliedAt: time.Now(),
		}
		if err := f.history.RecordTimezoneChange(ctx, change); err != nil {
			f.logger.Error("record timezone change failed", "timezone", id, "error", err)
		}
	}

	return f.reply(ctx, message.Chat.ID, icon(":clock4:")+"Timezone set to: "+id)
}

func (f *TimezoneFlow) helperCommand(id string) (string, []string) {
	if f.opts.ElevateCommand == "" {
		return f.opts.Script, []string{id}
	}
	return f.opts.ElevateCommand, []string{f.opts.Script, id}
}

func (f *TimezoneFlow) promptContinent(ctx context.Context, chatID int64, text string) error {
	labels := append(f.catalog.Continents(), closeLabel)
	return f.telegramAPI.SendMessageWithMarkup(ctx, chatID, text, telegram.OneTimeKeyboard(labels...))
}

func (f *TimezoneFlow) reply(ctx context.Context, chatID int64, text string) error {
	return f.telegramAPI.SendMessageWithMarkup(ctx, chatID, text, telegram.RemoveKeyboard())
}

// icon renders an emoji alias followed by a space.
func icon(alias string) string {
	return strings.TrimSpace(emoji.Sprint(alias)) + " "
}
