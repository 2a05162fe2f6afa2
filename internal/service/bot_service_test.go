package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guysoft/craftbeerpibot/internal/command"
	"github.com/guysoft/craftbeerpibot/internal/domain"
	"github.com/guysoft/craftbeerpibot/internal/logging"
	"github.com/guysoft/craftbeerpibot/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botFixture struct {
	flowFixture
	bot    *BotService
	logDir string
}

func newBotFixture(t *testing.T) botFixture {
	t.Helper()
	fx := botFixture{flowFixture: newFlowFixture(t), logDir: t.TempDir()}
	fx.bot = NewBotService(logging.Discard(), fx.telegram, fx.runner, fx.history, fx.flow, BotOptions{
		TelemetryLogDir:     fx.logDir,
		TelemetryLogPattern: "*.templog",
	})
	return fx
}

func (fx botFixture) send(chatID int64, userID int64, text string) {
	msg := textMessage(chatID, userID, text)
	fx.bot.HandleUpdate(context.Background(), telegram.Update{Message: &msg})
}

func TestHandleUpdateStart(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/start")

	reply := fx.telegram.last(t)
	assert.EqualValues(t, 10, reply.chatID)
	assert.Equal(t, startReply, reply.text)
}

func TestHandleUpdateHelpListsCommands(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/help@craftbeerpi_bot")

	text := fx.telegram.last(t).text
	assert.Contains(t, text, "The following commands are available:")
	for _, name := range []string{"/status", "/timezone", "/time", "/history", "/help"} {
		assert.Contains(t, text, name)
	}
}

func TestHandleUpdateStatus(t *testing.T) {
	fx := newBotFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.logDir, "b.templog"), []byte("1704103200,21.5,C\n1704103260,22.0,C\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.logDir, "a.templog"), []byte("1704103200,64.1,F,extra\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.logDir, "c.templog"), []byte("broken\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.logDir, "ignored.txt"), []byte("x,1,C\n"), 0o644))

	fx.send(10, 20, "/status")

	lines := strings.Split(strings.TrimRight(fx.telegram.last(t).text, "\n"), "\n")
	assert.Equal(t, []string{
		"Temps status :",
		"a.templog: 64.1/F",
		"b.templog: 22.0/C",
		"c.templog: unavailable",
	}, lines)
}

func TestHandleUpdateStatusWithoutSensors(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/status")

	text := fx.telegram.last(t).text
	assert.True(t, strings.HasPrefix(text, "Temps status :\n"))
	assert.Contains(t, text, "no sensor logs")
}

func TestHandleUpdateTime(t *testing.T) {
	fx := newBotFixture(t)
	fx.runner.result = command.Result{Stdout: "Mon Jan  1 12:00:00 UTC 2024\n"}

	fx.send(10, 20, "/time")

	require.Len(t, fx.runner.calls, 1)
	assert.Equal(t, "date", fx.runner.calls[0].name)
	assert.Empty(t, fx.runner.calls[0].args)
	assert.Equal(t, "Mon Jan  1 12:00:00 UTC 2024\n", fx.telegram.last(t).text)
}

func TestHandleUpdateTimeFallsBackToStderr(t *testing.T) {
	fx := newBotFixture(t)
	fx.runner.result = command.Result{Stderr: "date: bad clock", ExitCode: 1}

	fx.send(10, 20, "/time")

	assert.Equal(t, "date: bad clock", fx.telegram.last(t).text)
}

func TestHandleUpdateHistory(t *testing.T) {
	fx := newBotFixture(t)
	base := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	for i, id := range []string{"Europe/Paris", "America/Chicago"} {
		fx.history.changes = append(fx.history.changes, domain.TimezoneChange{Timezone: id, AppliedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	fx.send(10, 20, "/history")

	assert.Equal(t, "Recent timezone changes:\n"+
		"2024-03-01 09:30 UTC America/Chicago (exit 0)\n"+
		"2024-03-01 08:30 UTC Europe/Paris (exit 0)", fx.telegram.last(t).text)
}

func TestHandleUpdateHistoryEmpty(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/history")

	assert.Equal(t, "No timezone changes recorded yet.", fx.telegram.last(t).text)
}

func TestHandleUpdateIgnoresUnknownCommandsAndPlainText(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/frobnicate")
	fx.send(10, 20, "hello there")
	fx.send(10, 20, "   ")
	fx.bot.HandleUpdate(context.Background(), telegram.Update{UpdateID: 1})

	assert.Zero(t, fx.telegram.count())
	assert.Empty(t, fx.runner.calls)
}

func TestHandleUpdateRunsTimezoneConversation(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/timezone")
	fx.send(10, 20, "America")
	fx.send(10, 20, "New_York")

	require.Len(t, fx.runner.calls, 1)
	assert.Equal(t, []string{fx.script, "America/New_York"}, fx.runner.calls[0].args)
	assert.Contains(t, fx.telegram.last(t).text, "Timezone set to: America/New_York")
}

func TestHandleUpdateCommandDuringConversationKeepsFlow(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/timezone")
	fx.send(10, 20, "/start")
	assert.Equal(t, startReply, fx.telegram.last(t).text)

	fx.send(10, 20, "Europe")
	assert.Equal(t, zonePrompt, fx.telegram.last(t).text)
}

func TestHandleUpdateCancelCommand(t *testing.T) {
	fx := newBotFixture(t)

	fx.send(10, 20, "/timezone")
	fx.send(10, 20, "Europe")
	fx.send(10, 20, "/cancel")

	assert.Equal(t, cancelReply, fx.telegram.last(t).text)
	fx.send(10, 20, "Paris")
	assert.Empty(t, fx.runner.calls)
}

func TestHandleUpdateSendFailureIsSuppressed(t *testing.T) {
	fx := newBotFixture(t)
	var logs bytes.Buffer
	fx.bot.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	fx.telegram.err = &telegram.APIError{Kind: telegram.KindBadRequest, Method: "sendMessage", Code: 400, Description: "chat not found"}

	assert.NotPanics(t, func() { fx.send(10, 20, "/start") })
	assert.Contains(t, logs.String(), `"kind":"bad_request"`)
}

func TestHandleErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
		want  string
	}{
		{name: "unauthorized", err: &telegram.APIError{Kind: telegram.KindUnauthorized}, level: "WARN", want: "telegram refused the bot"},
		{name: "bad request", err: &telegram.APIError{Kind: telegram.KindBadRequest}, level: "WARN", want: "telegram rejected request"},
		{name: "timed out", err: context.DeadlineExceeded, level: "INFO", want: "telegram request timed out"},
		{name: "network", err: &telegram.APIError{Kind: telegram.KindNetwork}, level: "INFO", want: "telegram network error"},
		{name: "migrated", err: &telegram.APIError{Kind: telegram.KindChatMigrated, MigrateToChatID: -100777}, level: "WARN", want: "chat migrated"},
		{name: "generic", err: errors.New("boom"), level: "ERROR", want: "handler failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			bot := &BotService{logger: slog.New(slog.NewJSONHandler(&logs, nil))}

			bot.HandleError(tt.err)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.want, entry["msg"])
			if tt.name == "migrated" {
				assert.EqualValues(t, -100777, entry["new_chat_id"])
			}
		})
	}
}

func TestHandleErrorIgnoresNil(t *testing.T) {
	var logs bytes.Buffer
	bot := &BotService{logger: slog.New(slog.NewJSONHandler(&logs, nil))}

	bot.HandleError(nil)

	assert.Zero(t, logs.Len())
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "help", commandName("/help"))
	assert.Equal(t, "status", commandName("/Status@craftbeerpi_bot now"))
	assert.Equal(t, "", commandName(""))
}

type countingRunner struct {
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (r *countingRunner) Run(context.Context, string, ...string) (command.Result, error) {
	n := r.running.Add(1)
	for {
		m := r.maxRunning.Load()
		if n <= m || r.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	r.running.Add(-1)
	return command.Result{Stdout: "now"}, nil
}

func TestHandleUpdateSerializesConcurrentCallsPerSession(t *testing.T) {
	fx := newBotFixture(t)
	runner := &countingRunner{}
	fx.bot.runner = runner

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.send(10, 20, "/time")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, runner.maxRunning.Load())
	assert.Equal(t, 6, fx.telegram.count())
}
