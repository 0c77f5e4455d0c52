package app_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/hackorsnooze/internal/app"
	"github.com/alphabot-ai/hackorsnooze/internal/client"
	"github.com/alphabot-ai/hackorsnooze/internal/client/clienttest"
	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

const sid = "session-1"

func newService(t *testing.T) (*app.Service, *clienttest.Fake) {
	t.Helper()
	fake := clienttest.NewFake()
	t.Cleanup(fake.Close)
	api := client.New(fake.URL, 5*time.Second, nil)
	return app.NewService(api, app.NewRegistry(), 25, nil), fake
}

func loggedIn(t *testing.T, svc *app.Service, fake *clienttest.Fake) {
	t.Helper()
	fake.AddUser("ann", "pw", "Ann")
	_, err := svc.Login(context.Background(), sid, "ann", "pw")
	require.NoError(t, err)
}

func TestBootstrapLoadsStories(t *testing.T) {
	svc, fake := newService(t)
	fake.AddStory("bob", "One", "https://one.example", "B")
	fake.AddStory("bob", "Two", "https://two.example", "B")

	st, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, 2, st.Stories.Len())
	assert.Equal(t, "Two", st.Stories.Stories[0].Title)
	assert.Equal(t, st, svc.State(sid))
}

func TestBootstrapFailureKeepsState(t *testing.T) {
	svc, fake := newService(t)
	fake.AddStory("bob", "One", "https://one.example", "B")
	before, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)

	fake.FailNext(http.MethodGet, "/stories", http.StatusBadGateway)
	after, err := svc.Bootstrap(context.Background(), sid)
	require.Error(t, err)
	assert.Equal(t, before, after)
}

func TestSubmitRequiresLogin(t *testing.T) {
	svc, fake := newService(t)
	_, _, err := svc.SubmitStory(context.Background(), sid, model.NewStory{Title: "T", URL: "http://x.com/a", Author: "A"})
	assert.ErrorIs(t, err, app.ErrNotLoggedIn)
	assert.Zero(t, fake.Calls(http.MethodPost, "/stories"))
}

func TestSubmitPrependsStory(t *testing.T) {
	svc, fake := newService(t)
	fake.AddStory("bob", "Old", "https://old.example", "B")
	loggedIn(t, svc, fake)
	_, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)

	story, st, err := svc.SubmitStory(context.Background(), sid, model.NewStory{Title: " T ", URL: "http://x.com/a", Author: "A"})
	require.NoError(t, err)
	assert.NotEmpty(t, story.ID)
	assert.Equal(t, "T", story.Title)
	assert.Equal(t, "ann", story.Username)
	require.Equal(t, 2, st.Stories.Len())
	assert.Equal(t, story.ID, st.Stories.Stories[0].ID)
	assert.True(t, st.User.IsOwn(story.ID))
}

func TestSubmitFailureKeepsState(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	before := svc.State(sid)

	_, after, err := svc.SubmitStory(context.Background(), sid, model.NewStory{Title: "", URL: "", Author: ""})
	require.Error(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, before, svc.State(sid))
}

func TestDeleteRemovesFromEveryProjection(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	keep := fake.AddStory("ann", "Keep", "https://keep.example", "A")
	gone := fake.AddStory("ann", "Gone", "https://gone.example", "A")
	ctx := context.Background()

	_, err := svc.Bootstrap(ctx, sid)
	require.NoError(t, err)
	// Log in again so the user carries the stories seeded above.
	_, err = svc.Login(ctx, sid, "ann", "pw")
	require.NoError(t, err)
	_, _, err = svc.ToggleFavorite(ctx, sid, gone)
	require.NoError(t, err)

	st, err := svc.DeleteStory(ctx, sid, gone)
	require.NoError(t, err)
	_, inList := st.Stories.Find(gone)
	assert.False(t, inList)
	assert.False(t, st.User.IsOwn(gone))
	assert.False(t, st.User.IsFavorite(gone))
	assert.True(t, st.User.IsOwn(keep))
	assert.Equal(t, []string{keep}, fake.StoryIDs())
}

func TestDeleteFailureKeepsState(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	id := fake.AddStory("bob", "Not yours", "https://x.example", "B")
	_, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)
	before := svc.State(sid)

	_, err = svc.DeleteStory(context.Background(), sid, id)
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Equal(t, before, svc.State(sid))
}

func TestToggleFavoriteTwiceRestoresState(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	id := fake.AddStory("bob", "Story", "https://x.example", "B")
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, sid)
	require.NoError(t, err)

	fav, st, err := svc.ToggleFavorite(ctx, sid, id)
	require.NoError(t, err)
	assert.True(t, fav)
	assert.True(t, st.IsFavorite(id))
	assert.Equal(t, []string{id}, fake.Favorites("ann"))

	fav, st, err = svc.ToggleFavorite(ctx, sid, id)
	require.NoError(t, err)
	assert.False(t, fav)
	assert.False(t, st.IsFavorite(id))
	assert.Empty(t, fake.Favorites("ann"))
}

func TestToggleFavoriteUnknownStoryMakesNoCall(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)

	_, _, err := svc.ToggleFavorite(context.Background(), sid, "missing")
	assert.ErrorIs(t, err, app.ErrStoryNotFound)
	assert.Zero(t, fake.Calls(http.MethodPost, "/users/ann/favorites"))
}

func TestToggleFavoriteFailureKeepsMark(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	id := fake.AddStory("bob", "Story", "https://x.example", "B")
	_, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)

	fake.FailNext(http.MethodPost, "/users/ann/favorites", http.StatusInternalServerError)
	fav, st, err := svc.ToggleFavorite(context.Background(), sid, id)
	require.Error(t, err)
	assert.False(t, fav)
	assert.False(t, st.IsFavorite(id))
}

func TestConcurrentTogglesNeverDoubleApply(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	id := fake.AddStory("bob", "Story", "https://x.example", "B")
	_, err := svc.Bootstrap(context.Background(), sid)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.ToggleFavorite(context.Background(), sid, id)
		}()
	}
	wg.Wait()

	// An even number of serialized toggles ends where it started, locally and remotely.
	assert.False(t, svc.State(sid).IsFavorite(id))
	assert.Empty(t, fake.Favorites("ann"))
}

func TestLogoutDropsUser(t *testing.T) {
	svc, fake := newService(t)
	loggedIn(t, svc, fake)
	assert.True(t, svc.State(sid).LoggedIn())
	assert.False(t, svc.Logout(sid).LoggedIn())
}

func TestRestoreUser(t *testing.T) {
	svc, fake := newService(t)
	token := fake.AddUser("ann", "pw", "Ann")

	st, err := svc.RestoreUser(context.Background(), sid, "ann", token)
	require.NoError(t, err)
	require.True(t, st.LoggedIn())
	assert.Equal(t, "Ann", st.User.Name)
	assert.Equal(t, token, st.User.LoginToken)

	_, err = svc.RestoreUser(context.Background(), "other", "ann", "bad-token")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestActionsReloadStoriesAfterRestore(t *testing.T) {
	svc, fake := newService(t)
	token := fake.AddUser("ann", "pw", "Ann")
	other := fake.AddStory("bob", "Other", "https://other.example", "B")
	mine := fake.AddStory("ann", "Mine", "https://mine.example", "A")
	ctx := context.Background()

	// A restored session has its user back but no story list yet.
	st, err := svc.RestoreUser(ctx, sid, "ann", token)
	require.NoError(t, err)
	require.False(t, st.Loaded)

	fav, st, err := svc.ToggleFavorite(ctx, sid, other)
	require.NoError(t, err)
	assert.True(t, fav)
	assert.True(t, st.Loaded)
	assert.Equal(t, 2, st.Stories.Len())

	st, err = svc.DeleteStory(ctx, sid, mine)
	require.NoError(t, err)
	require.Equal(t, 1, st.Stories.Len())
	assert.Equal(t, other, st.Stories.Stories[0].ID)
	assert.Equal(t, 1, fake.Calls(http.MethodGet, "/stories"))
}

func TestDeleteReportsReloadFailure(t *testing.T) {
	svc, fake := newService(t)
	token := fake.AddUser("ann", "pw", "Ann")
	mine := fake.AddStory("ann", "Mine", "https://mine.example", "A")
	_, err := svc.RestoreUser(context.Background(), sid, "ann", token)
	require.NoError(t, err)

	fake.FailNext(http.MethodGet, "/stories", http.StatusBadGateway)
	_, err = svc.DeleteStory(context.Background(), sid, mine)
	require.Error(t, err)
	assert.Equal(t, []string{mine}, fake.StoryIDs())
}

// pausingAPI holds the next GetStories call after it has fetched, until
// release is closed.
type pausingAPI struct {
	app.StoryAPI
	armed   atomic.Bool
	fetched chan struct{}
	release chan struct{}
}

func (p *pausingAPI) GetStories(ctx context.Context, opts client.ListOpts) ([]model.Story, error) {
	stories, err := p.StoryAPI.GetStories(ctx, opts)
	if p.armed.CompareAndSwap(true, false) {
		close(p.fetched)
		<-p.release
	}
	return stories, err
}

func TestBootstrapDoesNotResurrectDeletedStory(t *testing.T) {
	fake := clienttest.NewFake()
	t.Cleanup(fake.Close)
	api := &pausingAPI{
		StoryAPI: client.New(fake.URL, 5*time.Second, nil),
		fetched:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := app.NewService(api, app.NewRegistry(), 25, nil)
	fake.AddUser("ann", "pw", "Ann")
	keep := fake.AddStory("ann", "Keep", "https://keep.example", "A")
	gone := fake.AddStory("ann", "Gone", "https://gone.example", "A")
	ctx := context.Background()
	_, err := svc.Login(ctx, sid, "ann", "pw")
	require.NoError(t, err)
	_, err = svc.Bootstrap(ctx, sid)
	require.NoError(t, err)

	api.armed.Store(true)
	bootDone := make(chan struct{})
	go func() {
		defer close(bootDone)
		_, _ = svc.Bootstrap(ctx, sid)
	}()
	<-api.fetched

	delDone := make(chan error, 1)
	go func() {
		_, err := svc.DeleteStory(ctx, sid, gone)
		delDone <- err
	}()
	assert.Never(t, func() bool { return len(delDone) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(api.release)
	<-bootDone
	require.NoError(t, <-delDone)

	st := svc.State(sid)
	_, found := st.Stories.Find(gone)
	assert.False(t, found)
	_, found = st.Stories.Find(keep)
	assert.True(t, found)
}
