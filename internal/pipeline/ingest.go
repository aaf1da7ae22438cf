// Package pipeline wires the ingestion and delivery phases of a daily run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"newsdigest/internal/fetcher"
	"newsdigest/internal/model"
	"newsdigest/internal/storage"
)

// SubscriptionSource provides the configured subscriptions in declared order.
type SubscriptionSource interface {
	Load() ([]model.Subscription, error)
}

// ArticleFetcher polls the feeds of a subscription list.
type ArticleFetcher interface {
	FetchArticles(ctx context.Context, subs []model.Subscription) fetcher.Batch
}

// ArticleWriter persists a batch of records, ignoring duplicates.
type ArticleWriter interface {
	InsertArticles(ctx context.Context, records []model.ArticleRecord) (storage.InsertResult, error)
}

// IngestSummary reports the counts of one ingestion pass.
type IngestSummary struct {
	Subscriptions int
	FailedFeeds   int
	Fetched       int
	Attempted     int
	Inserted      int
}

// Ingester fetches every subscription's feed and stores the resulting records.
type Ingester struct {
	subs   SubscriptionSource
	reader ArticleFetcher
	writer ArticleWriter
	log    *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(subs SubscriptionSource, reader ArticleFetcher, writer ArticleWriter, log *slog.Logger) *Ingester {
	return &Ingester{subs: subs, reader: reader, writer: writer, log: log}
}

// RunIngest runs one ingestion pass. Individual feed failures are tolerated and counted;
// failing to load subscriptions or to write the batch is returned as an error.
func (i *Ingester) RunIngest(ctx context.Context) (IngestSummary, error) {
	i.log.Info("starting ingest")

	subs, err := i.subs.Load()
	if err != nil {
		return IngestSummary{}, fmt.Errorf("load subscriptions: %w", err)
	}

	batch := i.reader.FetchArticles(ctx, subs)
	summary := IngestSummary{
		Subscriptions: len(subs),
		FailedFeeds:   batch.Failed(),
		Fetched:       len(batch.Articles),
	}
	i.log.Info("fetched articles",
		"subscriptions", summary.Subscriptions,
		"failed_feeds", summary.FailedFeeds,
		"articles", summary.Fetched,
	)

	res, err := i.writer.InsertArticles(ctx, batch.Articles)
	if err != nil {
		return summary, fmt.Errorf("insert articles: %w", err)
	}
	summary.Attempted = res.Attempted
	summary.Inserted = res.Inserted

	i.log.Info("ingest finished",
		"attempted", res.Attempted,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates(),
	)
	return summary, nil
}
