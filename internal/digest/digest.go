// Package digest selects and ranks the stored articles to summarize for each subscription.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"newsdigest/internal/model"
)

// Defaults for the per-subscription selection.
const (
	DefaultFallbackLimit = 3
	DefaultMaxItems      = 3
)

// ArticleReader is the read side of the article store used by the assembler.
type ArticleReader interface {
	ArticlesForDate(ctx context.Context, day time.Time) ([]model.Article, error)
	LatestForTicker(ctx context.Context, ticker string, limit int) ([]model.Article, error)
}

// Summary is the ranked article list for one subscription.
type Summary struct {
	Subscription model.Subscription
	Articles     []model.Article
	// Fallback is set when the target date had no rows and history was used instead.
	Fallback bool
}

// Digest is everything produced for one target date.
type Digest struct {
	Date      time.Time
	Today     []model.Article
	Summaries []Summary
}

// Assembler builds digests from the article store.
type Assembler struct {
	store         ArticleReader
	fallbackLimit int
	maxItems      int
	log           *slog.Logger
}

// New creates an Assembler. Non-positive limits fall back to the defaults.
func New(store ArticleReader, fallbackLimit, maxItems int, log *slog.Logger) *Assembler {
	if fallbackLimit <= 0 {
		fallbackLimit = DefaultFallbackLimit
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Assembler{
		store:         store,
		fallbackLimit: fallbackLimit,
		maxItems:      maxItems,
		log:           log,
	}
}

// ArticlesForDate returns day's articles in export order.
func (a *Assembler) ArticlesForDate(ctx context.Context, day time.Time) ([]model.Article, error) {
	rows, err := a.store.ArticlesForDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("articles for %s: %w", day.Format(time.DateOnly), err)
	}
	a.log.Info("loaded articles for date", "date", day.Format(time.DateOnly), "rows", len(rows))
	return rows, nil
}

// Build loads day's articles and summarizes them for subs.
// When only the summarizing fails, the returned digest still carries day's rows.
func (a *Assembler) Build(ctx context.Context, day time.Time, subs []model.Subscription) (*Digest, error) {
	today, err := a.ArticlesForDate(ctx, day)
	if err != nil {
		return nil, err
	}
	d := &Digest{Date: day, Today: today}
	d.Summaries, err = a.Summarize(ctx, today, subs)
	if err != nil {
		return d, err
	}
	return d, nil
}

// Summarize picks up to maxItems articles per subscription, in subscription order.
// A subscription with nothing today uses its latest stored articles; one with no history at all is skipped.
func (a *Assembler) Summarize(ctx context.Context, today []model.Article, subs []model.Subscription) ([]Summary, error) {
	groups := GroupByTicker(today)

	var summaries []Summary
	for _, sub := range subs {
		s := Summary{Subscription: sub, Articles: groups[sub.Key()]}
		if len(s.Articles) == 0 {
			latest, err := a.store.LatestForTicker(ctx, sub.Ticker, a.fallbackLimit)
			if err != nil {
				return nil, fmt.Errorf("latest for %s: %w", sub.Ticker, err)
			}
			s.Articles = latest
			s.Fallback = true
		}
		if len(s.Articles) == 0 {
			a.log.Debug("no articles for subscription", "ticker", sub.Ticker)
			continue
		}

		s.Articles = newestFirst(s.Articles)
		if len(s.Articles) > a.maxItems {
			s.Articles = s.Articles[:a.maxItems]
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// GroupByTicker groups rows by upper-cased ticker, preserving row order within a group.
func GroupByTicker(rows []model.Article) map[string][]model.Article {
	groups := make(map[string][]model.Article)
	for _, r := range rows {
		key := model.TickerKey(r.Ticker)
		groups[key] = append(groups[key], r)
	}
	return groups
}

// newestFirst returns a sorted copy: published_at descending, missing timestamps last, id descending on ties.
func newestFirst(rows []model.Article) []model.Article {
	out := make([]model.Article, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case ti == nil && tj == nil:
			return out[i].ID > out[j].ID
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.After(*tj)
		default:
			return out[i].ID > out[j].ID
		}
	})
	return out
}
