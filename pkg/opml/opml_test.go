package opml

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsspie/rsspie/pkg/domain"
)

func TestGenerate(t *testing.T) {
	feeds := []*domain.Feed{
		{Title: "Zeta Blog", URL: "https://zeta.example/feed", SiteURL: "https://zeta.example", Category: "Tech"},
		{Title: "Alpha News", URL: "https://alpha.example/rss", SiteURL: "https://alpha.example", Category: "News"},
		{Title: "Loose Feed", URL: "https://loose.example/feed", Category: "Uncategorized"},
	}

	out, err := Generate(feeds, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, xmlHeader()))
	assert.Contains(t, doc, `<opml version="2.0">`)
	assert.Contains(t, doc, `xmlUrl="https://zeta.example/feed"`)
	assert.Contains(t, doc, `htmlUrl="https://zeta.example"`)
	assert.Contains(t, doc, `<outline text="Tech" title="Tech">`)
	assert.Contains(t, doc, `<outline text="News" title="News">`)

	// category folders come alphabetically, uncategorized feeds last and unwrapped
	newsIdx := strings.Index(doc, `text="News"`)
	techIdx := strings.Index(doc, `text="Tech"`)
	looseIdx := strings.Index(doc, `text="Loose Feed"`)
	assert.Less(t, newsIdx, techIdx)
	assert.Less(t, techIdx, looseIdx)
	assert.NotContains(t, doc, `<outline text="Uncategorized"`)

	t.Run("round trip", func(t *testing.T) {
		parsed, errs := Parse(out)
		assert.Empty(t, errs)
		require.Len(t, parsed, 3)

		byTitle := map[string]Feed{}
		for _, f := range parsed {
			byTitle[f.Title] = f
		}
		assert.Equal(t, "Tech", byTitle["Zeta Blog"].Category)
		assert.Equal(t, "https://zeta.example/feed", byTitle["Zeta Blog"].XMLURL)
		assert.Equal(t, "", byTitle["Loose Feed"].Category)
	})
}

func TestParse(t *testing.T) {
	t.Run("flat document", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>subs</title></head>
  <body>
    <outline type="rss" text="Feed One" xmlUrl="https://one.example/feed" htmlUrl="https://one.example"/>
    <outline type="rss" text="Feed Two" xmlUrl="https://two.example/feed"/>
  </body>
</opml>`
		feeds, errs := Parse([]byte(doc))
		assert.Empty(t, errs)
		require.Len(t, feeds, 2)
		assert.Equal(t, "Feed One", feeds[0].Title)
		assert.Equal(t, "https://one.example", feeds[0].HTMLURL)
		assert.Empty(t, feeds[0].Category)
	})

	t.Run("nested folders", func(t *testing.T) {
		doc := `<?xml version="1.0"?>
<opml version="1.0">
  <body>
    <outline text="Tech">
      <outline text="Deep">
        <outline type="rss" text="Nested Feed" xmlUrl="https://deep.example/feed"/>
      </outline>
      <outline type="rss" text="Tech Feed" xmlUrl="https://tech.example/feed"/>
    </outline>
  </body>
</opml>`
		feeds, errs := Parse([]byte(doc))
		assert.Empty(t, errs)
		require.Len(t, feeds, 2)

		// nearest enclosing folder wins
		assert.Equal(t, "Deep", feeds[0].Category)
		assert.Equal(t, "Tech", feeds[1].Category)
	})

	t.Run("missing title falls back", func(t *testing.T) {
		doc := `<opml version="2.0"><body>
			<outline type="rss" xmlUrl="https://untitled.example/feed"/>
		</body></opml>`
		feeds, errs := Parse([]byte(doc))
		assert.Empty(t, errs)
		require.Len(t, feeds, 1)
		assert.Equal(t, "Untitled Feed", feeds[0].Title)
	})

	t.Run("bad urls collected as errors", func(t *testing.T) {
		doc := `<opml version="2.0"><body>
			<outline type="rss" text="Bad" xmlUrl="not a url"/>
			<outline type="rss" text="Good" xmlUrl="https://good.example/feed"/>
		</body></opml>`
		feeds, errs := Parse([]byte(doc))
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "invalid feed url")
		require.Len(t, feeds, 1)
		assert.Equal(t, "Good", feeds[0].Title)
	})

	t.Run("not xml at all", func(t *testing.T) {
		feeds, errs := Parse([]byte("hello world"))
		assert.Empty(t, feeds)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "invalid OPML document")
	})
}

func xmlHeader() string {
	return "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"
}
