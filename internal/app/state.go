package app

import "github.com/alphabot-ai/hackorsnooze/internal/model"

// State is what one browser session sees: the story list and, once logged
// in, the user with their own stories and favorites. A State is never
// modified in place; every With* method returns a new snapshot.
type State struct {
	Stories model.StoryList
	User    *model.User
	// Loaded is set once Stories holds a fetched page rather than only
	// stories added since the session's state was created.
	Loaded bool
}

func (s State) LoggedIn() bool { return s.User != nil }

func (s State) WithStories(stories []model.Story) State {
	s.Stories = model.StoryList{Stories: append([]model.Story(nil), stories...)}
	s.Loaded = true
	return s
}

func (s State) WithUser(u *model.User) State {
	s.User = u.Clone()
	return s
}

func (s State) WithoutUser() State {
	s.User = nil
	return s
}

// WithStoryAdded puts a freshly submitted story first in the story list and
// in the user's own stories.
func (s State) WithStoryAdded(story model.Story) State {
	s.Stories = s.Stories.Remove(story.ID).Prepend(story)
	if s.User != nil {
		s.User = s.User.WithOwnStory(story)
	}
	return s
}

// WithStoryRemoved drops id from every projection.
func (s State) WithStoryRemoved(id string) State {
	s.Stories = s.Stories.Remove(id)
	s.User = s.User.WithoutStory(id)
	return s
}

func (s State) WithFavorite(story model.Story, favorite bool) State {
	s.User = s.User.WithFavorite(story, favorite)
	return s
}

// FindStory looks id up in the story list, then in the user's own stories
// and favorites, which may hold stories beyond the loaded page.
func (s State) FindStory(id string) (model.Story, bool) {
	if story, ok := s.Stories.Find(id); ok {
		return story, true
	}
	if s.User == nil {
		return model.Story{}, false
	}
	for _, list := range [][]model.Story{s.User.OwnStories, s.User.Favorites} {
		if story, ok := (model.StoryList{Stories: list}).Find(id); ok {
			return story, true
		}
	}
	return model.Story{}, false
}

func (s State) IsFavorite(id string) bool { return s.User.IsFavorite(id) }
