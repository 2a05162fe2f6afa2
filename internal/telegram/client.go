package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

type API struct {
	baseURL         string
	botToken        string
	client          *http.Client
	pollingInterval time.Duration
	workers         int
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      User   `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type KeyboardButton struct {
	Text string `json:"text"`
}

type ReplyKeyboardMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
}

type ReplyKeyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// OneTimeKeyboard lays labels out one per row.
func OneTimeKeyboard(labels ...string) ReplyKeyboardMarkup {
	rows := make([][]KeyboardButton, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, []KeyboardButton{{Text: label}})
	}
	return ReplyKeyboardMarkup{Keyboard: rows, OneTimeKeyboard: true, ResizeKeyboard: true}
}

func RemoveKeyboard() ReplyKeyboardRemove {
	return ReplyKeyboardRemove{RemoveKeyboard: true}
}

func NewAPI(baseURL string, botToken string, timeout time.Duration, pollingInterval time.Duration) *API {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if pollingInterval <= 0 {
		pollingInterval = 2 * time.Second
	}
	// long polls hold the connection for up to pollingInterval
	if floor := pollingInterval + 10*time.Second; timeout < floor {
		timeout = floor
	}
	return &API{
		baseURL:         strings.TrimRight(baseURL, "/"),
		botToken:        botToken,
		client:          &http.Client{Timeout: timeout},
		pollingInterval: pollingInterval,
		workers:         8,
	}
}

func (a *API) SendMessage(ctx context.Context, chatID int64, text string) error {
	body := map[string]any{"chat_id": chatID, "text": text}
	_, err := a.request(ctx, "sendMessage", body)
	return err
}

// SendMessageWithMarkup sends text with a reply_markup such as
// ReplyKeyboardMarkup or ReplyKeyboardRemove.
func (a *API) SendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup any) error {
	body := map[string]any{"chat_id": chatID, "text": text, "reply_markup": markup}
	_, err := a.request(ctx, "sendMessage", body)
	return err
}

func (a *API) GetMe(ctx context.Context) (User, error) {
	raw, err := a.request(ctx, "getMe", nil)
	if err != nil {
		return User{}, err
	}
	var me User
	if err := json.Unmarshal(raw, &me); err != nil {
		return User{}, fmt.Errorf("decode getMe: %w", err)
	}
	return me, nil
}

func (a *API) DeleteWebhook(ctx context.Context) error {
	_, err := a.request(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": false})
	return err
}

// PollUpdates long-polls getUpdates until ctx is done. At most a.workers
// handlers run at once; updates from the same sender in the same chat run
// one at a time in the order they were received. Failed polls are
// reported to onError and retried after one polling interval, except an
// unauthorized token which ends polling.
func (a *API) PollUpdates(ctx context.Context, handler func(context.Context, Update), onError func(error)) error {
	var offset int64
	workers := make(chan struct{}, a.workers)
	order := newSenderOrder()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := a.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if KindOf(err) == KindUnauthorized {
				return err
			}
			if onError != nil {
				onError(err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.pollingInterval):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			wait, done := order.reserve(update)
			go func(u Update) {
				defer done()
				<-wait
				// a worker slot is taken only once the sender's earlier
				// update has finished, so queued updates hold no slot
				select {
				case workers <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-workers }()
				handler(ctx, u)
			}(update)
		}

		if len(updates) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.pollingInterval):
			}
		}
	}
}

type senderKey struct {
	chatID int64
	userID int64
}

// senderOrder chains handler runs per sender. reserve must be called from
// the polling goroutine so reservations follow update order.
type senderOrder struct {
	mu     sync.Mutex
	chains map[senderKey]chan struct{}
}

func newSenderOrder() *senderOrder {
	return &senderOrder{chains: map[senderKey]chan struct{}{}}
}

func (o *senderOrder) reserve(update Update) (<-chan struct{}, func()) {
	var key senderKey
	if update.Message != nil {
		key = senderKey{chatID: update.Message.Chat.ID, userID: update.Message.From.ID}
	}

	o.mu.Lock()
	previous := o.chains[key]
	next := make(chan struct{})
	o.chains[key] = next
	o.mu.Unlock()

	if previous == nil {
		previous = closedChan
	}
	return previous, func() {
		close(next)
		o.mu.Lock()
		if o.chains[key] == next {
			delete(o.chains, key)
		}
		o.mu.Unlock()
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (a *API) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         longPollSeconds(a.pollingInterval),
		"allowed_updates": []string{"message"},
	}
	raw, err := a.request(ctx, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, &APIError{Kind: KindGeneric, Method: "getUpdates", Err: err}
	}
	return updates, nil
}

func longPollSeconds(interval time.Duration) int {
	seconds := int(interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if seconds > 50 {
		seconds = 50
	}
	return seconds
}

type apiEnvelope struct {
	OK          bool                   `json:"ok"`
	Result      json.RawMessage        `json:"result"`
	ErrorCode   int                    `json:"error_code"`
	Description string                 `json:"description"`
	Parameters  *apiResponseParameters `json:"parameters"`
}

// request calls a Bot API method and returns the raw result field.
func (a *API) request(ctx context.Context, method string, body any) (json.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Kind: KindBadRequest, Method: method, Err: err}
		}
		payload = bytes.NewReader(raw)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, &APIError{Kind: KindBadRequest, Method: method, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.client.Do(req)
	if err != nil {
		kind := classifyTransport(err)
		// url.Error carries the request URL, which contains the token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &APIError{Kind: kind, Method: method, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &APIError{Kind: classifyTransport(err), Method: method, Code: res.StatusCode, Err: err}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if res.StatusCode >= 400 {
			return nil, classifyResponse(method, res.StatusCode, 0, strings.TrimSpace(string(raw)), nil)
		}
		return nil, &APIError{Kind: KindGeneric, Method: method, Code: res.StatusCode, Err: err}
	}
	if res.StatusCode >= 400 || !envelope.OK {
		return nil, classifyResponse(method, res.StatusCode, envelope.ErrorCode, envelope.Description, envelope.Parameters)
	}
	return envelope.Result, nil
}
