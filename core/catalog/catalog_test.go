package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moviesCSV = `movieId,title,genres
1,Toy Story (1995),Adventure|Animation|Children|Comedy|Fantasy
2,Jumanji (1995),Adventure|Children|Fantasy
32,Twelve Monkeys (1995),Mystery|Sci-Fi|Thriller
100,Oddball Short,(no genres listed)
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Read(strings.NewReader(moviesCSV))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReadCatalog(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, []string{"1", "100", "2", "32"}, c.IDs())

	m, ok := c.Movie("32")
	require.True(t, ok)
	assert.Equal(t, "Twelve Monkeys (1995)", m.Title)
	assert.Equal(t, []string{"Mystery", "Sci-Fi", "Thriller"}, m.Genres)

	_, ok = c.Movie("999")
	assert.False(t, ok)
}

func TestReadCatalogNoGenresMarker(t *testing.T) {
	c := testCatalog(t)
	m, ok := c.Movie("100")
	require.True(t, ok)
	assert.Empty(t, m.Genres)
}

func TestReadCatalogMalformed(t *testing.T) {
	_, err := Read(strings.NewReader("5\n"))
	assert.ErrorIs(t, err, ErrBadMovie)

	_, err = Read(strings.NewReader(",No Id Movie,Drama\n"))
	assert.ErrorIs(t, err, ErrBadMovie)
}

func TestReadCatalogDuplicateIDLastWins(t *testing.T) {
	c, err := Read(strings.NewReader("7,First Title,Drama\n7,Second Title,Comedy\n"))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 1, c.Len())
	m, _ := c.Movie("7")
	assert.Equal(t, "Second Title", m.Title)
}

func TestSearchTitles(t *testing.T) {
	c := testCatalog(t)

	hits, err := c.SearchTitles("toy story", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "1", hits[0].ID)

	hits, err = c.SearchTitles("monkeys", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "32", hits[0].ID)
}

func TestSearchTitlesEmptyQuery(t *testing.T) {
	c := testCatalog(t)
	hits, err := c.SearchTitles("   ", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestSearchTitlesLimit(t *testing.T) {
	c := testCatalog(t)
	hits, err := c.SearchTitles("1995", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 2)
}

func TestFilterGenres(t *testing.T) {
	c := testCatalog(t)

	got, err := c.FilterGenres("sci-*")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "32", got[0].ID)

	got, err = c.FilterGenres("children")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = c.FilterGenres("western")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFilterGenresMultiplePatterns(t *testing.T) {
	c := testCatalog(t)
	got, err := c.FilterGenres("mystery", "animation")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFilterGenresInvalidPattern(t *testing.T) {
	c := testCatalog(t)
	_, err := c.FilterGenres("[")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestFilterGenresNoPatterns(t *testing.T) {
	c := testCatalog(t)
	got, err := c.FilterGenres()
	require.NoError(t, err)
	assert.Nil(t, got)
}
