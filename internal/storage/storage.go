// Package storage defines the persistence interface and its SQL implementation.
package storage

import (
	"context"
	"time"

	"newsdigest/internal/model"
)

// InsertResult reports the outcome of a dedup-insert.
// Attempted counts submitted records; Inserted counts rows the store actually added.
type InsertResult struct {
	Attempted int
	Inserted  int
}

// Duplicates returns how many submitted records were ignored as already stored.
func (r InsertResult) Duplicates() int {
	return r.Attempted - r.Inserted
}

// Storage is the interface for all persistence operations.
type Storage interface {
	// InsertArticles stores records, ignoring any whose (link, ticker) already exists.
	// The batch is committed atomically.
	InsertArticles(ctx context.Context, records []model.ArticleRecord) (InsertResult, error)
	// ArticlesForDate returns the articles published on the calendar date of day,
	// ordered by ticker, published_at, id.
	ArticlesForDate(ctx context.Context, day time.Time) ([]model.Article, error)
	// LatestForTicker returns up to limit articles for ticker (case-insensitive),
	// newest first, regardless of date.
	LatestForTicker(ctx context.Context, ticker string, limit int) ([]model.Article, error)

	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Close() error
}
