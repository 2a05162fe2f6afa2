package domain

import (
	"fmt"
	"time"
)

// SessionKey identifies one conversation: a user inside a chat.
type SessionKey struct {
	ChatID int64
	UserID int64
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.UserID)
}

type ConversationState string

const (
	StateIdle              ConversationState = "idle"
	StateAwaitingContinent ConversationState = "awaiting_continent"
	StateAwaitingZone      ConversationState = "awaiting_zone"
)

type ConversationSession struct {
	Key               SessionKey
	State             ConversationState
	SelectedContinent string
	UpdatedAt         time.Time
}

// TimezoneChange is one timezone applied to the host through the helper
// script.
type TimezoneChange struct {
	ID        int64
	ChatID    int64
	UserID    int64
	Timezone  string
	ExitCode  int
	AppliedAt time.Time
}
