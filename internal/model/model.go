// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// SourceYahooFinance identifies records produced by the Yahoo Finance headline feed.
const SourceYahooFinance = "Yahoo Finance"

// Subscription is one configured feed to poll: a ticker plus the labels shown in digests.
type Subscription struct {
	Category    string
	DisplayName string
	Ticker      string
}

// Key returns the upper-cased ticker used for grouping and lookups.
func (s Subscription) Key() string {
	return TickerKey(s.Ticker)
}

// ArticleRecord is a normalized feed entry ready to be written to the store.
// PublishedAt is always a naive timestamp: wall clock as supplied by the feed, location UTC.
type ArticleRecord struct {
	PublishedRaw string
	PublishedAt  time.Time
	Category     string
	Ticker       string
	SourceName   string
	Title        string
	Link         string
}

// Article is a stored article row as read back from the store.
type Article struct {
	ID           int64
	PublishedRaw string
	PublishedAt  *time.Time
	Category     string
	Ticker       string
	SourceName   string
	Title        string
	Link         string
}

// TickerKey normalizes a ticker for grouping and lookups.
func TickerKey(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
