package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alphabot-ai/hackorsnooze/internal/client"
	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

var (
	ErrNotLoggedIn   = errors.New("log in to do that")
	ErrStoryNotFound = errors.New("story not found")
)

// StoryAPI is the external story and user service.
type StoryAPI interface {
	GetStories(ctx context.Context, opts client.ListOpts) ([]model.Story, error)
	AddStory(ctx context.Context, token string, story model.NewStory) (model.Story, error)
	RemoveStory(ctx context.Context, token, storyID string) error
	AddFavorite(ctx context.Context, token, username, storyID string) (model.User, error)
	RemoveFavorite(ctx context.Context, token, username, storyID string) (model.User, error)
	Login(ctx context.Context, username, password string) (model.User, error)
	Signup(ctx context.Context, name, username, password string) (model.User, error)
	GetUser(ctx context.Context, token, username string) (model.User, error)
}

// Service runs each viewer operation as one API call followed by one state
// update. A failed call leaves the session's state as it was.
type Service struct {
	api      StoryAPI
	sessions *Registry
	pageSize int
	log      *slog.Logger
}

func NewService(api StoryAPI, sessions *Registry, pageSize int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{api: api, sessions: sessions, pageSize: pageSize, log: log}
}

func (s *Service) State(sid string) State {
	return s.sessions.Get(sid)
}

// Bootstrap fetches the story list for the session. It holds the session
// lock so a slower fetch cannot overwrite the result of a mutation.
func (s *Service) Bootstrap(ctx context.Context, sid string) (State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	stories, err := s.api.GetStories(ctx, client.ListOpts{Limit: s.pageSize})
	if err != nil {
		return s.sessions.Get(sid), err
	}
	return s.sessions.Update(sid, func(st State) State { return st.WithStories(stories) }), nil
}

// loadStories fetches the story list if the session never loaded one, as
// after a restart or once idle state was pruned. The caller holds the lock.
func (s *Service) loadStories(ctx context.Context, sid string) (State, error) {
	st := s.sessions.Get(sid)
	if st.Loaded {
		return st, nil
	}
	stories, err := s.api.GetStories(ctx, client.ListOpts{Limit: s.pageSize})
	if err != nil {
		return st, fmt.Errorf("load stories: %w", err)
	}
	s.log.DebugContext(ctx, "story list reloaded", "stories", len(stories))
	return s.sessions.Update(sid, func(st State) State { return st.WithStories(stories) }), nil
}

// RestoreUser loads the user bound to a persisted session into memory, for
// example after a server restart. It is a no-op when the user is loaded.
func (s *Service) RestoreUser(ctx context.Context, sid, username, token string) (State, error) {
	if st := s.sessions.Get(sid); st.User != nil && st.User.Username == username {
		return st, nil
	}
	unlock := s.sessions.Lock(sid)
	defer unlock()

	if st := s.sessions.Get(sid); st.User != nil && st.User.Username == username {
		return st, nil
	}
	user, err := s.api.GetUser(ctx, token, username)
	if err != nil {
		return s.sessions.Get(sid), err
	}
	return s.sessions.Update(sid, func(st State) State { return st.WithUser(&user) }), nil
}

func (s *Service) Login(ctx context.Context, sid, username, password string) (State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	user, err := s.api.Login(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return s.sessions.Get(sid), err
	}
	s.log.InfoContext(ctx, "user logged in", "username", user.Username)
	return s.sessions.Update(sid, func(st State) State { return st.WithUser(&user) }), nil
}

func (s *Service) Signup(ctx context.Context, sid, name, username, password string) (State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	user, err := s.api.Signup(ctx, strings.TrimSpace(name), strings.TrimSpace(username), password)
	if err != nil {
		return s.sessions.Get(sid), err
	}
	s.log.InfoContext(ctx, "user signed up", "username", user.Username)
	return s.sessions.Update(sid, func(st State) State { return st.WithUser(&user) }), nil
}

func (s *Service) Logout(sid string) State {
	unlock := s.sessions.Lock(sid)
	defer unlock()
	return s.sessions.Update(sid, func(st State) State { return st.WithoutUser() })
}

// Forget drops everything held for the session.
func (s *Service) Forget(sid string) {
	s.sessions.Drop(sid)
}

// SubmitStory creates a story as the session's user. The username is not
// sent; the API derives it from the token.
func (s *Service) SubmitStory(ctx context.Context, sid string, in model.NewStory) (model.Story, State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	st := s.sessions.Get(sid)
	if !st.LoggedIn() {
		return model.Story{}, st, ErrNotLoggedIn
	}
	in = model.NewStory{
		Title:  strings.TrimSpace(in.Title),
		URL:    strings.TrimSpace(in.URL),
		Author: strings.TrimSpace(in.Author),
	}
	story, err := s.api.AddStory(ctx, st.User.LoginToken, in)
	if err != nil {
		return model.Story{}, st, err
	}
	s.log.InfoContext(ctx, "story submitted", "story_id", story.ID, "username", st.User.Username)
	return story, s.sessions.Update(sid, func(st State) State { return st.WithStoryAdded(story) }), nil
}

// DeleteStory removes one of the user's stories from the API and from every
// local projection.
func (s *Service) DeleteStory(ctx context.Context, sid, storyID string) (State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	st := s.sessions.Get(sid)
	if !st.LoggedIn() {
		return st, ErrNotLoggedIn
	}
	// The re-rendered lists come from st, so it must hold the full page.
	st, err := s.loadStories(ctx, sid)
	if err != nil {
		return st, err
	}
	if err := s.api.RemoveStory(ctx, st.User.LoginToken, storyID); err != nil {
		return st, err
	}
	s.log.InfoContext(ctx, "story deleted", "story_id", storyID, "username", st.User.Username)
	return s.sessions.Update(sid, func(st State) State { return st.WithStoryRemoved(storyID) }), nil
}

// ToggleFavorite flips the favorite mark of storyID and reports the new mark.
// The current mark is read from the session state, never from the page.
func (s *Service) ToggleFavorite(ctx context.Context, sid, storyID string) (bool, State, error) {
	unlock := s.sessions.Lock(sid)
	defer unlock()

	st := s.sessions.Get(sid)
	if !st.LoggedIn() {
		return false, st, ErrNotLoggedIn
	}
	st, err := s.loadStories(ctx, sid)
	if err != nil {
		return false, st, err
	}
	story, ok := st.FindStory(storyID)
	if !ok {
		return false, st, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}

	want := !st.IsFavorite(storyID)
	if want {
		_, err = s.api.AddFavorite(ctx, st.User.LoginToken, st.User.Username, storyID)
	} else {
		_, err = s.api.RemoveFavorite(ctx, st.User.LoginToken, st.User.Username, storyID)
	}
	if err != nil {
		return !want, st, err
	}
	s.log.DebugContext(ctx, "favorite toggled", "story_id", storyID, "favorite", want)
	return want, s.sessions.Update(sid, func(st State) State { return st.WithFavorite(story, want) }), nil
}
