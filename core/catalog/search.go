package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/gobwas/glob"
)

// ErrInvalidPattern reports an uncompilable genre glob pattern.
var ErrInvalidPattern = errors.New("catalog: invalid genre pattern")

// SearchTitles runs a full-text match query over movie titles and returns
// up to limit movies, best match first. An empty query matches nothing.
func (c *Catalog) SearchTitles(query string, limit int) ([]Movie, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("title")
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: title search: %w", err)
	}

	out := make([]Movie, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if m, ok := c.movies[hit.ID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// FilterGenres returns the movies whose genre set matches at least one of
// the glob patterns, in catalog id order. Matching is case-insensitive, so
// "sci-*" finds Sci-Fi.
func (c *Catalog) FilterGenres(patterns ...string) ([]Movie, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		matchers = append(matchers, matcher)
	}

	var out []Movie
	for _, id := range c.ids {
		m := c.movies[id]
		if genresMatch(m.Genres, matchers) {
			out = append(out, m)
		}
	}
	return out, nil
}

func genresMatch(genres []string, matchers []glob.Glob) bool {
	for _, g := range genres {
		lower := strings.ToLower(g)
		for _, matcher := range matchers {
			if matcher.Match(lower) {
				return true
			}
		}
	}
	return false
}
