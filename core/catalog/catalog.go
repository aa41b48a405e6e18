// Package catalog holds movie metadata and lightweight search over it.
//
// The catalog is a read-only lookup from movie id to title and genres,
// with a full-text title index and glob-based genre filtering layered on
// top. It feeds the recommendation pipeline twice: its sorted id set pins
// the affinity builder's item space, and its metadata turns recommended
// ids back into something presentable.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// noGenresMarker is the placeholder MovieLens uses for unclassified movies.
const noGenresMarker = "(no genres listed)"

// ErrBadMovie reports a movies row that cannot be parsed.
var ErrBadMovie = errors.New("catalog: malformed movies record")

// Movie is one catalog entry.
type Movie struct {
	ID     string
	Title  string
	Genres []string
}

// Catalog is an immutable movie metadata set with an in-memory title
// index. Build one with New, Read, or Load and Close it when done.
type Catalog struct {
	movies map[string]Movie
	ids    []string
	index  bleve.Index
}

// New builds a catalog over the given movies. Duplicate ids keep the last
// entry.
func New(movies []Movie) (*Catalog, error) {
	byID := make(map[string]Movie, len(movies))
	for _, m := range movies {
		byID[m.ID] = m
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("catalog: create title index: %w", err)
	}
	batch := index.NewBatch()
	for _, id := range ids {
		if err := batch.Index(id, map[string]string{"title": byID[id].Title}); err != nil {
			index.Close()
			return nil, fmt.Errorf("catalog: index title: %w", err)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("catalog: index titles: %w", err)
	}

	return &Catalog{movies: byID, ids: ids, index: index}, nil
}

// Load reads a movies CSV file, movieId,title,genres with an optional
// header row.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open movies file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses movies rows from r and builds a catalog. Genres are
// pipe-separated; the MovieLens "(no genres listed)" marker yields an empty
// genre set.
func Read(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var movies []Movie
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: read csv: %w", err)
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "movieId") {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want at least 2", ErrBadMovie, line, len(row))
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			return nil, fmt.Errorf("%w: line %d has an empty id", ErrBadMovie, line)
		}

		m := Movie{ID: id, Title: strings.TrimSpace(row[1])}
		if len(row) > 2 {
			m.Genres = parseGenres(row[2])
		}
		movies = append(movies, m)
	}
	return New(movies)
}

func parseGenres(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" || field == noGenresMarker {
		return nil
	}
	parts := strings.Split(field, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Movie returns the entry for an id.
func (c *Catalog) Movie(id string) (Movie, bool) {
	m, ok := c.movies[id]
	return m, ok
}

// Len returns the number of movies.
func (c *Catalog) Len() int {
	return len(c.ids)
}

// IDs returns the movie ids in sorted order, ready to pin an item index
// map.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Close releases the title index.
func (c *Catalog) Close() error {
	return c.index.Close()
}
