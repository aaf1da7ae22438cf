package storage

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsdigest/migrations"
)

const timeLayout = "2006-01-02 15:04:05"

// dialect captures the differences between the embedded and the networked store.
type dialect struct {
	name        string
	driver      string
	placeholder sq.PlaceholderFormat
	migrations  migrations.Dialect
	versionSQL  string
	// textTime stores timestamps as sortable text instead of a native column type.
	textTime bool
}

var (
	sqliteDialect = dialect{
		name:        "sqlite",
		driver:      "sqlite",
		placeholder: sq.Question,
		migrations:  migrations.SQLite,
		versionSQL:  "SELECT 'SQLite ' || sqlite_version()",
		textTime:    true,
	}
	postgresDialect = dialect{
		name:        "postgres",
		driver:      "postgres",
		placeholder: sq.Dollar,
		migrations:  migrations.Postgres,
		versionSQL:  "SELECT version()",
	}
)

func dialectFor(dsn string) dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgresDialect
	}
	return sqliteDialect
}

func (d dialect) encodeTime(t time.Time) any {
	if d.textTime {
		return t.Format(timeLayout)
	}
	return t
}

var storedLayouts = []string{
	timeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// decodeTime converts a scanned published_at value into a naive timestamp.
func decodeTime(v any) (*time.Time, error) {
	var t time.Time
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = val
	case []byte:
		return decodeTime(string(val))
	case string:
		if val == "" {
			return nil, nil
		}
		var err error
		for _, layout := range storedLayouts {
			if t, err = time.Parse(layout, val); err == nil {
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("parse stored timestamp %q: %w", val, err)
		}
	default:
		return nil, fmt.Errorf("unexpected timestamp type %T", v)
	}
	n := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return &n, nil
}
