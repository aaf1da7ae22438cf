package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"newsdigest/internal/model"
)

// FeedStatus is the outcome of polling one subscription.
type FeedStatus string

// Possible feed outcomes.
const (
	StatusOK          FeedStatus = "ok"
	StatusFetchFailed FeedStatus = "fetch_failed"
	StatusParseFailed FeedStatus = "parse_failed"
	StatusCancelled   FeedStatus = "cancelled"
)

// FeedResult reports what one subscription contributed to a batch.
type FeedResult struct {
	Ticker   string
	URL      string
	Status   FeedStatus
	Entries  int // entries considered after truncation
	Articles int // records produced
	Dropped  int // entries rejected by the date gate
	Err      error
}

// Batch is the output of one pass over all subscriptions.
type Batch struct {
	Articles []model.ArticleRecord
	Results  []FeedResult
}

// Failed returns the number of subscriptions that contributed nothing because of an error.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Status != StatusOK {
			n++
		}
	}
	return n
}

// Reader polls the provider feed of every subscription, one at a time.
type Reader struct {
	fetcher     *Fetcher
	urlTemplate string
	maxEntries  int
	source      string
	log         *slog.Logger
}

// NewReader creates a Reader. urlTemplate must contain the {ticker} placeholder.
func NewReader(f *Fetcher, urlTemplate string, maxEntries int, log *slog.Logger) *Reader {
	return &Reader{
		fetcher:     f,
		urlTemplate: urlTemplate,
		maxEntries:  maxEntries,
		source:      model.SourceYahooFinance,
		log:         log,
	}
}

// FeedURL builds the provider URL for a ticker.
func (r *Reader) FeedURL(ticker string) string {
	return strings.ReplaceAll(r.urlTemplate, "{ticker}", url.QueryEscape(ticker))
}

// FetchArticles polls every subscription in order. A failing subscription is recorded in
// the batch results and contributes no records; it never aborts the batch.
func (r *Reader) FetchArticles(ctx context.Context, subs []model.Subscription) Batch {
	var batch Batch
	for _, sub := range subs {
		if ctx.Err() != nil {
			batch.Results = append(batch.Results, FeedResult{Ticker: sub.Ticker, Status: StatusCancelled, Err: ctx.Err()})
			continue
		}
		records, res := r.fetchOne(ctx, sub)
		batch.Articles = append(batch.Articles, records...)
		batch.Results = append(batch.Results, res)
	}
	return batch
}

func (r *Reader) fetchOne(ctx context.Context, sub model.Subscription) ([]model.ArticleRecord, FeedResult) {
	feedURL := r.FeedURL(sub.Ticker)
	res := FeedResult{Ticker: sub.Ticker, URL: feedURL, Status: StatusOK}

	r.log.Debug("fetching feed", "ticker", sub.Ticker, "url", feedURL)

	feed, err := r.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		res.Err = err
		if errors.Is(err, ErrMalformedFeed) {
			res.Status = StatusParseFailed
			r.log.Warn("malformed feed", "ticker", sub.Ticker, "url", feedURL, "error", err)
		} else {
			res.Status = StatusFetchFailed
			r.log.Error("fetch feed", "ticker", sub.Ticker, "url", feedURL, "error", err)
		}
		return nil, res
	}

	items := feed.Items
	if len(items) > r.maxEntries {
		items = items[:r.maxEntries]
	}
	res.Entries = len(items)

	records := make([]model.ArticleRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			res.Dropped++
			continue
		}
		rec, ok := Normalize(item, sub, r.source)
		if !ok {
			res.Dropped++
			r.log.Debug("skip entry without parseable date",
				"ticker", sub.Ticker, "title", strings.TrimSpace(item.Title), "published", PublishedRaw(item))
			continue
		}
		records = append(records, rec)
	}
	res.Articles = len(records)

	r.log.Info("fetched feed", "ticker", sub.Ticker, "entries", res.Entries, "articles", res.Articles, "dropped", res.Dropped)
	return records, res
}
