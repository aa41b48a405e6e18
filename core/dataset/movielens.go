// Package dataset loads interaction data and prepares experiment
// populations. Loaders accept MovieLens-style CSV files and return the
// opaque-id records the affinity builder consumes.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
)

// ErrBadRecord reports a ratings row that cannot be parsed.
var ErrBadRecord = errors.New("dataset: malformed ratings record")

// LoadRatings reads a ratings CSV file, userId,movieId,rating,timestamp
// with an optional header row.
func LoadRatings(path string) ([]affinity.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open ratings file: %w", err)
	}
	defer f.Close()
	return ReadRatings(f)
}

// ReadRatings parses ratings rows from r. Each row carries user id, item
// id, rating, and an optional timestamp; a leading header row is detected
// by its non-numeric rating column and skipped. A row that parses wrong
// fails the whole read with its line number.
func ReadRatings(r io.Reader) ([]affinity.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var records []affinity.Record
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read csv: %w", err)
		}
		line++

		if len(row) < 3 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want at least 3", ErrBadRecord, line, len(row))
		}

		rating, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("%w: line %d rating %q", ErrBadRecord, line, row[2])
		}

		var ts int64
		if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
			ts, err = strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d timestamp %q", ErrBadRecord, line, row[3])
			}
		}

		userID := strings.TrimSpace(row[0])
		itemID := strings.TrimSpace(row[1])
		if userID == "" || itemID == "" {
			return nil, fmt.Errorf("%w: line %d has empty ids", ErrBadRecord, line)
		}

		records = append(records, affinity.Record{
			UserID:    userID,
			ItemID:    itemID,
			Rating:    rating,
			Timestamp: ts,
		})
	}
	return records, nil
}
