package digest

import (
	"fmt"
	"strings"
	"time"

	"newsdigest/internal/model"
)

// MessagePrefix tags every chat message sent by the pipeline.
const MessagePrefix = "[FinancialNewsCrawler]"

const (
	timestampLayout  = "2006-01-02 15:04"
	unknownTimestamp = "unknown"
)

// FormatSummary renders one subscription's summary as a chat message.
func FormatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 [%s news digest]", s.Subscription.DisplayName)
	for _, a := range s.Articles {
		b.WriteString("\n\n")
		b.WriteString(FormatArticle(a))
	}
	return b.String()
}

// Text renders the summary as a chat message.
func (s Summary) Text() string {
	return FormatSummary(s)
}

// FormatArticle renders one bullet: timestamp, title and link.
func FormatArticle(a model.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "• %s | %s", FormatTimestamp(a.PublishedAt), a.Title)
	if a.Link != "" {
		b.WriteString("\n")
		b.WriteString(a.Link)
	}
	return b.String()
}

// FormatTimestamp renders a stored timestamp, or "unknown" when absent.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return unknownTimestamp
	}
	return t.Format(timestampLayout)
}

// NoNewsNotice is the single message sent when no subscription produced a summary.
func NoNewsNotice(day time.Time) string {
	return fmt.Sprintf("%s %s: no news today.", MessagePrefix, day.Format(time.DateOnly))
}

// ExportCaption is the caption attached to the exported spreadsheet.
func ExportCaption(day time.Time) string {
	return fmt.Sprintf("%s %s news export", MessagePrefix, day.Format(time.DateOnly))
}

// Messages returns the chat messages for the digest: one per summary,
// or exactly one no-news notice when there are none.
func (d *Digest) Messages() []string {
	if len(d.Summaries) == 0 {
		return []string{NoNewsNotice(d.Date)}
	}
	msgs := make([]string, 0, len(d.Summaries))
	for _, s := range d.Summaries {
		msgs = append(msgs, s.Text())
	}
	return msgs
}
