package ports

import (
	"context"

	"github.com/guysoft/craftbeerpibot/internal/command"
	"github.com/guysoft/craftbeerpibot/internal/domain"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup any) error
}

type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (command.Result, error)
}

type TimezoneHistoryRepository interface {
	RecordTimezoneChange(ctx context.Context, change domain.TimezoneChange) error
	ListTimezoneChanges(ctx context.Context, limit int) ([]domain.TimezoneChange, error)
}
