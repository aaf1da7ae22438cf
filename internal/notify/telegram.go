// Package notify delivers digest messages and export files to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"
)

// ErrNotConfigured is reported when the bot token or recipients are missing,
// or when the bot API client could not be created.
var ErrNotConfigured = errors.New("telegram not configured: set TG_BOT_TOKEN and TG_CHAT_ID")

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Result is the delivery outcome for one recipient.
type Result struct {
	Recipient string
	Err       error
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Options tunes delivery retries.
type Options struct {
	Retries int
	Backoff time.Duration
	// Endpoint overrides the Bot API URL format (tgbotapi.APIEndpoint when empty).
	Endpoint string
}

// Telegram sends messages and documents to a fixed list of chats.
type Telegram struct {
	api        telegramAPI
	recipients []string
	opts       Options
	log        *slog.Logger
	// initErr is reported by every delivery when the API client could not be created.
	initErr error
}

// New creates a Telegram sender. It never fails: with a missing token or no recipients,
// or when the bot API cannot be reached to validate the token, the sender is returned
// unconfigured and every call logs the cause and delivers nothing.
func New(token string, recipients []string, opts Options, log *slog.Logger) *Telegram {
	t := &Telegram{recipients: recipients, opts: opts, log: log, initErr: ErrNotConfigured}
	if token == "" || len(recipients) == 0 {
		log.Warn("telegram not configured, delivery disabled")
		return t
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		t.initErr = fmt.Errorf("%w: create bot api: %w", ErrNotConfigured, err)
		log.Error("telegram unavailable, delivery disabled", "error", t.initErr)
		return t
	}
	t.api = api
	t.initErr = nil
	return t
}

// NewWithAPI creates a sender over an existing API client (useful for testing).
func NewWithAPI(api telegramAPI, recipients []string, opts Options, log *slog.Logger) *Telegram {
	return &Telegram{api: api, recipients: recipients, opts: opts, log: log}
}

// Configured reports whether the sender can deliver anything.
func (t *Telegram) Configured() bool {
	return t.api != nil && len(t.recipients) > 0
}

// SendMessage sends text to every recipient. A failure for one recipient does not affect the others.
func (t *Telegram) SendMessage(ctx context.Context, text string) []Result {
	return t.deliver(ctx, "message", func(chat string) tgbotapi.Chattable {
		return newMessage(chat, text)
	})
}

// SendFile sends the file at path as a document to every recipient.
func (t *Telegram) SendFile(ctx context.Context, path, caption string) []Result {
	if _, err := os.Stat(path); err != nil {
		t.log.Error("send file", "path", path, "error", err)
		return []Result{{Err: fmt.Errorf("send file: %w", err)}}
	}
	return t.deliver(ctx, "file", func(chat string) tgbotapi.Chattable {
		return newDocument(chat, path, caption)
	})
}

func (t *Telegram) deliver(ctx context.Context, kind string, build func(chat string) tgbotapi.Chattable) []Result {
	if !t.Configured() {
		err := t.initErr
		if err == nil {
			err = ErrNotConfigured
		}
		t.log.Error("skip telegram delivery", "kind", kind, "error", err)
		return []Result{{Err: err}}
	}

	results := make([]Result, 0, len(t.recipients))
	for _, chat := range t.recipients {
		err := t.send(ctx, build(chat))
		if err != nil {
			t.log.Error("telegram delivery failed", "kind", kind, "chat", chat, "error", err)
		} else {
			t.log.Info("telegram delivery sent", "kind", kind, "chat", chat)
		}
		results = append(results, Result{Recipient: chat, Err: err})
	}
	return results
}

// send retries transient failures: transport errors, 5xx and 429 responses.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	backoff := retry.WithMaxRetries(uint64(max(t.opts.Retries, 0)), retry.NewExponential(max(t.opts.Backoff, time.Millisecond)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.api.Send(c)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

func newMessage(chat, text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chat, text)
	}
	msg.DisableWebPagePreview = true
	return msg
}

func newDocument(chat, path, caption string) tgbotapi.DocumentConfig {
	file := tgbotapi.FilePath(path)
	var doc tgbotapi.DocumentConfig
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		doc = tgbotapi.NewDocument(id, file)
	} else {
		doc = tgbotapi.DocumentConfig{BaseFile: tgbotapi.BaseFile{
			BaseChat: tgbotapi.BaseChat{ChannelUsername: chat},
			File:     file,
		}}
	}
	doc.Caption = caption
	return doc
}
