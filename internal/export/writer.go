// Package export writes a day's articles to a spreadsheet file.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/xuri/excelize/v2"

	"newsdigest/internal/model"
)

const (
	sheetName   = "news"
	minColWidth = 8
	maxColWidth = 80
)

// Columns is the header row, matching the store's article columns.
var Columns = []string{"id", "published_raw", "published_at", "category", "ticker", "source_name", "title", "link"}

// Writer writes one spreadsheet per target date into a directory.
type Writer struct {
	dir string
	log *slog.Logger
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, log *slog.Logger) *Writer {
	return &Writer{dir: dir, log: log}
}

// FileName returns the export file name for day.
func FileName(day time.Time) string {
	return fmt.Sprintf("news_%s.xlsx", day.Format("20060102"))
}

// WriteDay writes rows, in the given order, to news_YYYYMMDD.xlsx and returns its path.
// No file is written for an empty day and the returned path is empty.
// An existing file with the same name is replaced.
func (w *Writer) WriteDay(day time.Time, rows []model.Article) (string, error) {
	if len(rows) == 0 {
		w.log.Info("nothing to export", "date", day.Format(time.DateOnly))
		return "", nil
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return "", fmt.Errorf("rename sheet: %w", err)
	}

	widths := make([]int, len(Columns))
	if err := writeRow(f, 1, toCells(Columns), widths); err != nil {
		return "", err
	}
	for i, r := range rows {
		cells := []any{r.ID, r.PublishedRaw, publishedCell(r.PublishedAt), r.Category, r.Ticker, r.SourceName, r.Title, r.Link}
		if err := writeRow(f, i+2, cells, widths); err != nil {
			return "", err
		}
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return "", fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, float64(clamp(width+2, minColWidth, maxColWidth))); err != nil {
			return "", fmt.Errorf("set column width: %w", err)
		}
	}

	path := filepath.Join(w.dir, FileName(day))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}

	size := ""
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	w.log.Info("exported articles", "date", day.Format(time.DateOnly), "rows", len(rows), "path", path, "size", size)
	return path, nil
}

func writeRow(f *excelize.File, rowNum int, cells []any, widths []int) error {
	ref, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheetName, ref, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	for i, c := range cells {
		if w := runewidth.StringWidth(fmt.Sprint(c)); w > widths[i] {
			widths[i] = w
		}
	}
	return nil
}

func publishedCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateTime)
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
