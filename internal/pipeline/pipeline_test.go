package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsdigest/internal/digest"
	"newsdigest/internal/export"
	"newsdigest/internal/fetcher"
	"newsdigest/internal/model"
	"newsdigest/internal/notify"
	"newsdigest/internal/storage"
)

const feedTemplate = "https://feeds.example.com/rss?s={ticker}"

var day = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

type mockHTTP struct {
	bodies map[string]string
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	body, ok := m.bodies[req.URL.String()]
	if !ok {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

type staticSubs struct {
	subs []model.Subscription
	err  error
}

func (s staticSubs) Load() ([]model.Subscription, error) {
	return s.subs, s.err
}

type sentFile struct {
	Path    string
	Caption string
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	files    []sentFile
}

func (m *mockNotifier) SendMessage(_ context.Context, text string) []notify.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return []notify.Result{{Recipient: "100"}}
}

func (m *mockNotifier) SendFile(_ context.Context, path, caption string) []notify.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, sentFile{Path: path, Caption: caption})
	return []notify.Result{{Recipient: "100"}}
}

type failingExporter struct{}

func (failingExporter) WriteDay(time.Time, []model.Article) (string, error) {
	return "", errors.New("disk full")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/" + name) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(data)
}

func newTestStore(t *testing.T) *storage.SQL {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func subscriptions() []model.Subscription {
	return []model.Subscription{
		{Category: "Tech", DisplayName: "Apple", Ticker: "AAPL"},
		{Category: "Tech", DisplayName: "Microsoft", Ticker: "MSFT"},
		{Category: "Tech", DisplayName: "Broken", Ticker: "DOWN"},
	}
}

func newIngester(t *testing.T, store *storage.SQL, subs SubscriptionSource) *Ingester {
	t.Helper()
	client := &mockHTTP{bodies: map[string]string{
		"https://feeds.example.com/rss?s=AAPL": loadFixture(t, "aapl.xml"),
		"https://feeds.example.com/rss?s=aapl": loadFixture(t, "aapl.xml"),
		"https://feeds.example.com/rss?s=MSFT": loadFixture(t, "msft_atom.xml"),
	}}
	reader := fetcher.NewReader(fetcher.New(client), feedTemplate, 3, discardLogger())
	return NewIngester(subs, reader, store, discardLogger())
}

type harness struct {
	store    *storage.SQL
	notifier *mockNotifier
	runner   *Runner
	dir      string
}

func newHarness(t *testing.T, subs []model.Subscription, exporter Exporter) *harness {
	t.Helper()
	store := newTestStore(t)
	src := staticSubs{subs: subs}
	dir := filepath.Join(t.TempDir(), "output")
	if exporter == nil {
		exporter = export.NewWriter(dir, discardLogger())
	}
	notifier := &mockNotifier{}
	runner := NewRunner(
		newIngester(t, store, src),
		src,
		digest.New(store, 3, 3, discardLogger()),
		exporter,
		notifier,
		discardLogger(),
	)
	return &harness{store: store, notifier: notifier, runner: runner, dir: dir}
}

func TestRunIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ing := newIngester(t, store, staticSubs{subs: subscriptions()})

	first, err := ing.RunIngest(ctx)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	want := IngestSummary{Subscriptions: 3, FailedFeeds: 1, Fetched: 3, Attempted: 3, Inserted: 3}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first summary mismatch (-want +got):\n%s", diff)
	}

	second, err := ing.RunIngest(ctx)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	want.Inserted = 0
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("second summary mismatch (-want +got):\n%s", diff)
	}

	rows, err := store.ArticlesForDate(ctx, day)
	if err != nil {
		t.Fatalf("articles for date: %v", err)
	}
	var tickers []string
	for _, r := range rows {
		tickers = append(tickers, r.Ticker)
	}
	if diff := cmp.Diff([]string{"AAPL", "AAPL", "MSFT"}, tickers); diff != "" {
		t.Errorf("stored tickers mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIngestTickerCaseDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := newIngester(t, store, staticSubs{subs: subscriptions()[:1]}).RunIngest(ctx)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if diff := cmp.Diff(2, first.Inserted); diff != "" {
		t.Errorf("first inserted mismatch (-want +got):\n%s", diff)
	}

	lower := []model.Subscription{{Category: "Tech", DisplayName: "Apple", Ticker: "aapl"}}
	second, err := newIngester(t, store, staticSubs{subs: lower}).RunIngest(ctx)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if diff := cmp.Diff(IngestSummary{Subscriptions: 1, Fetched: 2, Attempted: 2, Inserted: 0}, second); diff != "" {
		t.Errorf("second summary mismatch (-want +got):\n%s", diff)
	}

	latest, err := store.LatestForTicker(ctx, "aapl", 10)
	if err != nil {
		t.Fatalf("latest for ticker: %v", err)
	}
	if diff := cmp.Diff(2, len(latest)); diff != "" {
		t.Errorf("stored rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIngestSubscriptionLoadFailure(t *testing.T) {
	store := newTestStore(t)
	ing := newIngester(t, store, staticSubs{err: os.ErrNotExist})

	if _, err := ing.RunIngest(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestRunAbortsOnIngestFailure(t *testing.T) {
	h := newHarness(t, subscriptions(), nil)
	h.runner.ingester.subs = staticSubs{err: errors.New("subscription file missing")}

	if _, err := h.runner.Run(context.Background(), day); err == nil {
		t.Fatal("expected ingest error")
	}
	if len(h.notifier.messages) != 0 || len(h.notifier.files) != 0 {
		t.Errorf("expected no delivery, got messages=%d files=%d", len(h.notifier.messages), len(h.notifier.files))
	}
}

func TestRunDeliversExportAndDigest(t *testing.T) {
	h := newHarness(t, subscriptions(), nil)

	report, err := h.runner.Run(context.Background(), day)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := filepath.Join(h.dir, "news_20261016.xlsx")
	if diff := cmp.Diff(wantPath, report.Delivery.ExportPath); diff != "" {
		t.Errorf("export path mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("export file missing: %v", err)
	}
	wantFiles := []sentFile{{Path: wantPath, Caption: digest.ExportCaption(day)}}
	if diff := cmp.Diff(wantFiles, h.notifier.files); diff != "" {
		t.Errorf("sent files mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(2, len(h.notifier.messages)); diff != "" {
		t.Fatalf("message count mismatch (-want +got):\n%s", diff)
	}
	apple := h.notifier.messages[0]
	if !strings.HasPrefix(apple, "📢 [Apple news digest]") {
		t.Errorf("unexpected Apple header: %q", apple)
	}
	newer := strings.Index(apple, "2026-10-16 10:00")
	older := strings.Index(apple, "2026-10-16 09:00")
	if newer < 0 || older < 0 || newer > older {
		t.Errorf("expected 10:00 before 09:00 in %q", apple)
	}
	if !strings.HasPrefix(h.notifier.messages[1], "📢 [Microsoft news digest]") {
		t.Errorf("unexpected Microsoft header: %q", h.notifier.messages[1])
	}

	if diff := cmp.Diff(3, report.Delivery.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if err := report.Delivery.Err(); err != nil {
		t.Errorf("unexpected delivery error: %v", err)
	}
}

func TestDeliverEmptyDayUsesHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, subscriptions()[:1], nil)

	var history []model.ArticleRecord
	for i, hour := range []int{8, 9, 10} {
		at := time.Date(2026, 10, 10, hour, 0, 0, 0, time.UTC)
		history = append(history, model.ArticleRecord{
			PublishedRaw: at.Format(time.RFC1123Z),
			PublishedAt:  at,
			Category:     "Tech",
			Ticker:       "AAPL",
			SourceName:   model.SourceYahooFinance,
			Title:        "history " + string(rune('a'+i)),
			Link:         "https://finance.example.com/news/history-" + string(rune('a'+i)),
		})
	}
	if _, err := h.store.InsertArticles(ctx, history); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	report := h.runner.Deliver(ctx, day)

	if report.ExportPath != "" {
		t.Errorf("expected no export file, got %q", report.ExportPath)
	}
	if _, err := os.Stat(h.dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected export dir not to be created, stat err = %v", err)
	}
	if len(h.notifier.files) != 0 {
		t.Errorf("expected no file sent, got %v", h.notifier.files)
	}
	if diff := cmp.Diff(1, len(h.notifier.messages)); diff != "" {
		t.Fatalf("message count mismatch (-want +got):\n%s", diff)
	}
	msg := h.notifier.messages[0]
	for _, title := range []string{"history a", "history b", "history c"} {
		if !strings.Contains(msg, title) {
			t.Errorf("expected %q in fallback digest %q", title, msg)
		}
	}
	if strings.Index(msg, "history c") > strings.Index(msg, "history a") {
		t.Errorf("expected newest history first in %q", msg)
	}
}

func TestDeliverTotalSilence(t *testing.T) {
	h := newHarness(t, subscriptions(), nil)

	report := h.runner.Deliver(context.Background(), day)

	if diff := cmp.Diff([]string{digest.NoNewsNotice(day)}, h.notifier.messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if len(h.notifier.files) != 0 {
		t.Errorf("expected no file sent, got %v", h.notifier.files)
	}
	if diff := cmp.Diff(0, report.Summaries); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverExportFailureIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, subscriptions(), failingExporter{})

	if _, err := h.runner.ingester.RunIngest(ctx); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	report := h.runner.Deliver(ctx, day)

	if report.ExportErr == nil {
		t.Fatal("expected export error")
	}
	if report.Err() == nil {
		t.Error("expected report error")
	}
	if len(h.notifier.files) != 0 {
		t.Errorf("expected no file sent, got %v", h.notifier.files)
	}
	if diff := cmp.Diff(2, len(h.notifier.messages)); diff != "" {
		t.Errorf("digest should still be delivered (-want +got):\n%s", diff)
	}
}

func TestRunIngestsWhenNotifierUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, subscriptions(), nil)
	h.runner.notifier = notify.New("123:bad-token", []string{"100"}, notify.Options{
		Retries:  1,
		Backoff:  time.Millisecond,
		Endpoint: srv.URL + "/bot%s/%s",
	}, discardLogger())

	ctx := context.Background()
	report, err := h.runner.Run(ctx, day)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(3, report.Ingest.Inserted); diff != "" {
		t.Errorf("inserted mismatch (-want +got):\n%s", diff)
	}
	rows, err := h.store.ArticlesForDate(ctx, day)
	if err != nil {
		t.Fatalf("articles for date: %v", err)
	}
	if diff := cmp.Diff(3, len(rows)); diff != "" {
		t.Errorf("stored rows mismatch (-want +got):\n%s", diff)
	}
	if report.Delivery.ExportPath == "" {
		t.Error("expected export file to be written")
	}
	if err := report.Delivery.Err(); !errors.Is(err, notify.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured in delivery report, got %v", err)
	}
}

func TestDeliverSubscriptionFailureStillExports(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, subscriptions(), nil)
	if _, err := h.runner.ingester.RunIngest(ctx); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h.runner.subs = staticSubs{err: os.ErrNotExist}

	report := h.runner.Deliver(ctx, day)

	if !errors.Is(report.DigestErr, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist digest error, got %v", report.DigestErr)
	}
	if diff := cmp.Diff(1, len(h.notifier.files)); diff != "" {
		t.Errorf("sent files mismatch (-want +got):\n%s", diff)
	}
	if len(h.notifier.messages) != 0 {
		t.Errorf("expected no messages, got %v", h.notifier.messages)
	}
}

func TestDeliveryReportErr(t *testing.T) {
	report := DeliveryReport{
		Messages: []notify.Result{
			{Recipient: "100"},
			{Recipient: "200", Err: notify.ErrNotConfigured},
		},
	}
	if err := report.Err(); !errors.Is(err, notify.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured in %v", err)
	}
	if err := (DeliveryReport{}).Err(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
