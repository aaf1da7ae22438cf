package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"    // PostgreSQL driver registration.
	_ "modernc.org/sqlite" // SQLite driver registration.

	"newsdigest/internal/model"
	"newsdigest/migrations"
)

const (
	articlesTable = "news_history"
	// insertChunk keeps each statement well below driver bind-parameter limits.
	insertChunk = 500
)

var articleColumns = []string{
	"id", "published_raw", "published_at", "category", "ticker", "source_name", "title", "link",
}

// SQL implements Storage on top of database/sql for SQLite or PostgreSQL.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to dsn and runs pending migrations. A postgres:// or postgresql:// URL
// selects PostgreSQL; anything else is treated as a SQLite path.
func Open(dsn string) (*SQL, error) {
	db, m, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}

	if err := migrations.Run(db, m); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQL{db: db, dialect: dialectFor(dsn)}, nil
}

// OpenDB opens dsn with the matching driver without migrating it and returns
// the migration set for its dialect. The parent directory of a SQLite file is created.
func OpenDB(dsn string) (*sql.DB, migrations.Dialect, error) {
	d := dialectFor(dsn)

	if d.name == sqliteDialect.name {
		if dir := sqliteDir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, d.migrations, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, d.migrations, fmt.Errorf("open %s: %w", d.name, err)
	}

	if d.name == sqliteDialect.name {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, d.migrations, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	return db, d.migrations, nil
}

// DialectName returns the store dialect selected by dsn: "sqlite" or "postgres".
func DialectName(dsn string) string {
	return dialectFor(dsn).name
}

func sqliteDir(dsn string) string {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return ""
	}
	if dir := filepath.Dir(dsn); dir != "." {
		return dir
	}
	return ""
}

// Dialect returns "sqlite" or "postgres".
func (s *SQL) Dialect() string {
	return s.dialect.name
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.name, err)
	}
	return nil
}

// Version returns the store server or library version.
func (s *SQL) Version(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, s.dialect.versionSQL).Scan(&v); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// InsertArticles inserts records in one transaction with ON CONFLICT (link, ticker) DO NOTHING.
func (s *SQL) InsertArticles(ctx context.Context, records []model.ArticleRecord) (InsertResult, error) {
	res := InsertResult{Attempted: len(records)}
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(records); start += insertChunk {
		end := min(start+insertChunk, len(records))

		q := sq.Insert(articlesTable).
			Columns(articleColumns[1:]...).
			Suffix("ON CONFLICT (link, ticker) DO NOTHING").
			PlaceholderFormat(s.dialect.placeholder)
		for _, r := range records[start:end] {
			q = q.Values(r.PublishedRaw, s.dialect.encodeTime(r.PublishedAt), r.Category, r.Ticker, r.SourceName, r.Title, r.Link)
		}

		query, args, err := q.ToSql()
		if err != nil {
			return InsertResult{}, fmt.Errorf("build insert: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return InsertResult{}, fmt.Errorf("insert articles: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			res.Inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// ArticlesForDate returns the articles whose published_at falls on day's calendar date.
func (s *SQL) ArticlesForDate(ctx context.Context, day time.Time) ([]model.Article, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	q := sq.Select(articleColumns...).
		From(articlesTable).
		Where(sq.And{
			sq.GtOrEq{"published_at": s.dialect.encodeTime(start)},
			sq.Lt{"published_at": s.dialect.encodeTime(end)},
		}).
		OrderBy("ticker", "published_at", "id").
		PlaceholderFormat(s.dialect.placeholder)

	return s.queryArticles(ctx, q)
}

// LatestForTicker returns the newest articles for ticker without any date bound.
func (s *SQL) LatestForTicker(ctx context.Context, ticker string, limit int) ([]model.Article, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := sq.Select(articleColumns...).
		From(articlesTable).
		Where(sq.Expr("UPPER(ticker) = ?", model.TickerKey(ticker))).
		OrderBy("published_at DESC", "id DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(s.dialect.placeholder)

	return s.queryArticles(ctx, q)
}

func (s *SQL) queryArticles(ctx context.Context, q sq.SelectBuilder) ([]model.Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanArticle(row scannable) (model.Article, error) {
	var (
		a         model.Article
		published any
		raw, cat  sql.NullString
		src, ttl  sql.NullString
		link      sql.NullString
	)
	if err := row.Scan(&a.ID, &raw, &published, &cat, &a.Ticker, &src, &ttl, &link); err != nil {
		return a, fmt.Errorf("scan article: %w", err)
	}
	at, err := decodeTime(published)
	if err != nil {
		return a, fmt.Errorf("article %d: %w", a.ID, err)
	}
	a.PublishedAt = at
	a.PublishedRaw = raw.String
	a.Category = cat.String
	a.SourceName = src.String
	a.Title = strings.TrimSpace(ttl.String)
	a.Link = strings.TrimSpace(link.String)
	return a, nil
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQL)(nil)
