package fetcher

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"newsdigest/internal/model"
)

// PublishedRaw returns the entry's publish-date text: the published field, else the updated field.
func PublishedRaw(item *gofeed.Item) string {
	if strings.TrimSpace(item.Published) != "" {
		return item.Published
	}
	return item.Updated
}

// ParseTimestamp parses free-form date text into a naive timestamp.
// Any zone offset is dropped: the wall clock reads as written by the feed.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return Naive(t), true
}

// Naive strips the location from t while keeping its wall clock.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Normalize converts a feed entry into an article record for sub.
// Entries without a parseable publish date are rejected; missing title or link become empty strings.
func Normalize(item *gofeed.Item, sub model.Subscription, source string) (model.ArticleRecord, bool) {
	raw := PublishedRaw(item)
	published, ok := ParseTimestamp(raw)
	if !ok {
		return model.ArticleRecord{}, false
	}
	return model.ArticleRecord{
		PublishedRaw: raw,
		PublishedAt:  published,
		Category:     sub.Category,
		Ticker:       model.TickerKey(sub.Ticker),
		SourceName:   source,
		Title:        CleanTitle(item.Title),
		Link:         strings.TrimSpace(item.Link),
	}, true
}

// CleanTitle trims a headline and flattens any embedded markup or entities to plain text.
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if !strings.ContainsAny(title, "<&") {
		return title
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(title))
	if err != nil {
		return title
	}
	return strings.TrimSpace(doc.Text())
}
