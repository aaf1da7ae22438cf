package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/config"
	"newsdigest/internal/digest"
	"newsdigest/internal/export"
	"newsdigest/internal/fetcher"
	"newsdigest/internal/notify"
	"newsdigest/internal/pipeline"
	"newsdigest/internal/storage"
	"newsdigest/internal/subscription"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.SQL
}

// configure sets up the app once the configuration is loaded.
func (a *app) configure(cfg *config.Config) {
	a.cfg = cfg
	a.log = newLogger(cfg.LogLevel).With("run_id", uuid.NewString()[:8])
}

func (a *app) openStore() (*storage.SQL, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database (%s): %w", storage.DialectName(a.cfg.DatabaseURL), err)
	}
	a.store = store
	return store, nil
}

// close releases the store; it is safe to call when nothing was opened.
func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// notifier never fails: a missing or rejected bot token yields a sender that only logs.
func (a *app) notifier() *notify.Telegram {
	log := a.log.With("component", "notify")
	token := a.cfg.TelegramBotToken
	if !a.cfg.TelegramConfigured() {
		token = ""
	}
	return notify.New(token, a.cfg.TelegramChatIDs, notify.Options{
		Retries: a.cfg.NotifyRetries,
		Backoff: a.cfg.NotifyBackoff,
	}, log)
}

func (a *app) ingester(store *storage.SQL) *pipeline.Ingester {
	f := fetcher.New(&http.Client{})
	f.SetTimeout(a.cfg.FeedTimeout)
	reader := fetcher.NewReader(f, a.cfg.FeedURLTemplate, a.cfg.FeedMaxEntries, a.log.With("component", "fetcher"))
	subs := subscription.File{Path: a.cfg.RSSListPath}
	return pipeline.NewIngester(subs, reader, store, a.log.With("component", "ingest"))
}

func (a *app) runner() (*pipeline.Runner, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(
		a.ingester(store),
		subscription.File{Path: a.cfg.RSSListPath},
		digest.New(store, a.cfg.DigestFallbackLimit, a.cfg.DigestMaxItems, a.log.With("component", "digest")),
		export.NewWriter(a.cfg.ExportDir, a.log.With("component", "export")),
		a.notifier(),
		a.log.With("component", "pipeline"),
	), nil
}

// targetDate resolves --date, defaulting to today in the configured timezone.
func (a *app) targetDate(raw string) (time.Time, error) {
	if raw == "" {
		return a.cfg.Today(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", raw)
	}
	return day, nil
}

func (a *app) logDelivery(report pipeline.DeliveryReport) {
	if err := report.Err(); err != nil {
		a.log.Warn("delivery finished with failures", "date", report.Date.Format(time.DateOnly), "error", err)
	}
}
