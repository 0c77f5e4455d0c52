package view

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	r.now = func() time.Time { return testNow }
	return r
}

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func story(id, title string) model.Story {
	return model.Story{
		ID:        id,
		Title:     title,
		URL:       "https://www.example.com/" + id,
		Author:    "Ada",
		Username:  "ann",
		CreatedAt: testNow.Add(-3 * time.Hour),
	}
}

func TestStoryItemAnonymous(t *testing.T) {
	r := newRenderer(t)
	h, err := r.StoryItem(ListAll, story("s1", "Hello"), nil, false)
	require.NoError(t, err)
	doc := parse(t, string(h))

	li := doc.Find("li#all-s1.story")
	require.Equal(t, 1, li.Length())
	assert.Equal(t, "s1", li.AttrOr("data-story-id", ""))
	assert.Zero(t, li.Find(".star").Length())
	assert.Zero(t, li.Find(".trash-can").Length())

	link := li.Find("a.story-link")
	assert.Equal(t, "Hello", link.Text())
	assert.Equal(t, "https://www.example.com/s1", link.AttrOr("href", ""))
	assert.Equal(t, "_blank", link.AttrOr("target", ""))
	assert.Equal(t, "(example.com)", li.Find(".story-hostname").Text())
	assert.Equal(t, "by Ada", li.Find(".story-author").Text())
	assert.Equal(t, "posted by ann", li.Find(".story-user").Text())
	assert.Equal(t, "3 hours ago", li.Find(".story-age").Text())
}

func TestStoryItemStarFollowsFavorites(t *testing.T) {
	r := newRenderer(t)
	s := story("s1", "Hello")
	viewer := &model.User{Username: "ann"}

	h, err := r.StoryItem(ListAll, s, viewer, false)
	require.NoError(t, err)
	star := parse(t, string(h)).Find("span#all-star-s1.star i")
	require.Equal(t, 1, star.Length())
	assert.True(t, star.HasClass("far"))
	assert.False(t, star.HasClass("fas"))

	viewer = viewer.WithFavorite(s, true)
	h, err = r.StoryItem(ListAll, s, viewer, false)
	require.NoError(t, err)
	star = parse(t, string(h)).Find("span#all-star-s1.star i")
	assert.True(t, star.HasClass("fas"))
	assert.False(t, star.HasClass("far"))
}

func TestStoryItemDeleteControlOnlyForOwner(t *testing.T) {
	r := newRenderer(t)
	viewer := &model.User{Username: "ann"}

	h, err := r.StoryItem(ListOwn, story("s1", "Mine"), viewer, true)
	require.NoError(t, err)
	trash := parse(t, string(h)).Find("li#own-s1 .trash-can")
	require.Equal(t, 1, trash.Length())
	assert.Contains(t, trash.AttrOr("data-on:click", ""), "@delete('/stories/s1')")
	assert.Equal(t, 1, trash.Find("i.fas.fa-trash-alt").Length())

	h, err = r.StoryItem(ListAll, story("s1", "Mine"), viewer, false)
	require.NoError(t, err)
	assert.Zero(t, parse(t, string(h)).Find(".trash-can").Length())

	// The owner flag alone decides; the star still needs a viewer.
	h, err = r.StoryItem(ListOwn, story("s1", "Mine"), nil, true)
	require.NoError(t, err)
	doc := parse(t, string(h))
	assert.Equal(t, 1, doc.Find(".trash-can").Length())
	assert.Zero(t, doc.Find(".star").Length())
}

func TestStoryItemEscapesContent(t *testing.T) {
	r := newRenderer(t)
	s := story("s1", "<script>alert(1)</script>")
	s.URL = "javascript:alert(1)"

	h, err := r.StoryItem(ListAll, s, nil, false)
	require.NoError(t, err)
	assert.NotContains(t, string(h), "<script>")
	doc := parse(t, string(h))
	assert.Equal(t, "<script>alert(1)</script>", doc.Find("a.story-link").Text())
	assert.NotContains(t, doc.Find("a.story-link").AttrOr("href", ""), "javascript:")
}

func TestStoryItemWithoutTimestampHasNoAge(t *testing.T) {
	r := newRenderer(t)
	s := story("s1", "Hello")
	s.CreatedAt = time.Time{}
	h, err := r.StoryItem(ListAll, s, nil, false)
	require.NoError(t, err)
	assert.Zero(t, parse(t, string(h)).Find(".story-age").Length())
}

func TestRenderListKeepsOrder(t *testing.T) {
	r := newRenderer(t)
	stories := []model.Story{story("a", "A"), story("b", "B"), story("c", "C")}

	html, err := r.RenderList(ListAll, stories, nil)
	require.NoError(t, err)
	doc := parse(t, html)
	items := doc.Find("ol#all-stories-list > li")
	require.Equal(t, 3, items.Length())
	var ids []string
	items.Each(func(_ int, li *goquery.Selection) {
		ids = append(ids, li.AttrOr("data-story-id", ""))
	})
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Zero(t, doc.Find(".empty-message").Length())
}

func TestRenderListEmptyPlaceholders(t *testing.T) {
	r := newRenderer(t)
	viewer := &model.User{Username: "ann"}

	cases := []struct {
		kind ListKind
		sel  string
		want string
	}{
		{ListOwn, "ol#my-stories", "No stories added by user yet..."},
		{ListFavorites, "ol#favorited-stories", "No favorites added yet?"},
	}
	for _, tc := range cases {
		html, err := r.RenderList(tc.kind, nil, viewer)
		require.NoError(t, err)
		list := parse(t, html).Find(tc.sel)
		require.Equal(t, 1, list.Length(), tc.sel)
		assert.Equal(t, tc.want, list.Find("h5.empty-message").Text())
		assert.Zero(t, list.Find("li").Length())
	}

	html, err := r.RenderList(ListAll, nil, viewer)
	require.NoError(t, err)
	doc := parse(t, html)
	assert.Equal(t, 1, doc.Find("ol#all-stories-list").Length())
	assert.Zero(t, doc.Find(".empty-message").Length())
}

func TestRenderOwnListCarriesDeleteControls(t *testing.T) {
	r := newRenderer(t)
	viewer := &model.User{Username: "ann"}
	html, err := r.RenderList(ListOwn, []model.Story{story("a", "A"), story("b", "B")}, viewer)
	require.NoError(t, err)
	doc := parse(t, html)
	assert.Equal(t, 2, doc.Find("li .trash-can").Length())
	assert.Equal(t, 2, doc.Find("li .star").Length())
}

func TestStarPatch(t *testing.T) {
	r := newRenderer(t)
	s := story("s1", "Hello")
	viewer := (&model.User{Username: "ann"}).WithFavorite(s, true)

	html, err := r.Star(ListFavorites, s, viewer)
	require.NoError(t, err)
	star := parse(t, html).Find("span#fav-star-s1")
	require.Equal(t, 1, star.Length())
	assert.Contains(t, star.AttrOr("data-on:click", ""), "@post('/stories/s1/favorite')")
	assert.True(t, star.Find("i").HasClass("fas"))
}

func TestErrorBanner(t *testing.T) {
	r := newRenderer(t)
	html, err := r.ErrorBanner("story not found")
	require.NoError(t, err)
	banner := parse(t, html).Find("#error-banner")
	assert.Equal(t, "story not found", banner.Find(".error-message").Text())

	html, err = r.ErrorBanner("")
	require.NoError(t, err)
	banner = parse(t, html).Find("#error-banner")
	require.Equal(t, 1, banner.Length())
	assert.Zero(t, banner.Children().Length())
}

func TestWritePageAnonymous(t *testing.T) {
	r := newRenderer(t)
	var buf bytes.Buffer
	require.NoError(t, r.WritePage(&buf, Page{Stories: []model.Story{story("a", "A")}}))
	doc := parse(t, buf.String())

	assert.Equal(t, 1, doc.Find("#all-stories-list li").Length())
	assert.Zero(t, doc.Find("#my-stories").Length())
	assert.Zero(t, doc.Find("#submit-form").Length())
	assert.Equal(t, 1, doc.Find("#nav-login").Length())
	assert.Contains(t, doc.Find("body").AttrOr("data-signals", ""), `"view":"all"`)
}

func TestWritePageLoggedIn(t *testing.T) {
	r := newRenderer(t)
	mine := story("m", "Mine")
	viewer := &model.User{Username: "ann", OwnStories: []model.Story{mine}}
	var buf bytes.Buffer
	require.NoError(t, r.WritePage(&buf, Page{
		User:    viewer,
		Stories: []model.Story{mine, story("b", "B")},
		View:    ListOwn,
		Error:   "boom",
	}))
	doc := parse(t, buf.String())

	assert.Equal(t, 2, doc.Find("#all-stories-list li").Length())
	assert.Equal(t, 1, doc.Find("#my-stories li#own-m").Length())
	assert.Equal(t, "No favorites added yet?", doc.Find("#favorited-stories .empty-message").Text())
	assert.Equal(t, 1, doc.Find("#submit-form input#create-title").Length())
	assert.Equal(t, "ann", doc.Find("#nav-user-profile").Text())
	assert.Equal(t, "boom", doc.Find("#error-banner .error-message").Text())
	assert.Contains(t, doc.Find("body").AttrOr("data-signals", ""), `"view":"own"`)
}

func TestWriteLogin(t *testing.T) {
	r := newRenderer(t)
	var buf bytes.Buffer
	require.NoError(t, r.WriteLogin(&buf, "ann", "invalid credentials"))
	doc := parse(t, buf.String())
	assert.Equal(t, "ann", doc.Find("#login-username").AttrOr("value", ""))
	assert.Equal(t, 1, doc.Find("#signup-form").Length())
	assert.Equal(t, "invalid credentials", doc.Find("#error-banner .error-message").Text())
}

func TestParseListKind(t *testing.T) {
	for _, k := range []ListKind{ListAll, ListOwn, ListFavorites} {
		got, ok := ParseListKind(k.View())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseListKind("bogus")
	assert.False(t, ok)
}

func TestLoading(t *testing.T) {
	r := newRenderer(t)
	html, err := r.Loading(ListAll)
	require.NoError(t, err)
	doc := parse(t, html)
	assert.Equal(t, 1, doc.Find("ol#all-stories-list > li#stories-loading-msg").Length())
}
