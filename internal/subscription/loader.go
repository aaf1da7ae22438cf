// Package subscription loads the list of ticker feeds to poll from a spreadsheet or CSV file.
package subscription

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"newsdigest/internal/model"
)

// ErrMissingColumns is returned when the header row lacks a required column.
var ErrMissingColumns = errors.New("missing required columns")

var requiredColumns = []string{"category", "name", "ticker"}

// File is a subscription source backed by a file on disk.
type File struct {
	Path string
}

// Load reads the subscriptions from the file.
func (f File) Load() ([]model.Subscription, error) {
	return Load(f.Path)
}

// Load reads subscriptions from an .xlsx (first sheet) or .csv file.
// Column names are matched case-insensitively after trimming; rows with an empty ticker are dropped.
func Load(path string) ([]model.Subscription, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("subscription list %s: %w", path, err)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	default:
		rows, err = readXLSX(path)
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func parseRows(rows [][]string) ([]model.Subscription, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(requiredColumns, ", "))
	}

	index := make(map[string]int)
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var subs []model.Subscription
	for _, row := range rows[1:] {
		ticker := cell(row, index["ticker"])
		if ticker == "" {
			continue
		}
		subs = append(subs, model.Subscription{
			Category:    cell(row, index["category"]),
			DisplayName: cell(row, index["name"]),
			Ticker:      ticker,
		})
	}
	return subs, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
