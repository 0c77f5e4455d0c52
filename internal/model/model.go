package model

import (
	"net/url"
	"strings"
	"time"
)

type Story struct {
	ID        string    `json:"storyId"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Author    string    `json:"author"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// HostName returns the display host for the story's url, without a leading
// "www.". Unparsable urls are returned as-is.
func (s Story) HostName() string {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || u.Host == "" {
		return s.URL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// NewStory is what a viewer submits; the API assigns the id and username.
type NewStory struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Author string `json:"author"`
}

// StoryList is an ordered list of stories. Index order is display order.
type StoryList struct {
	Stories []Story
}

func (l StoryList) Len() int { return len(l.Stories) }

func (l StoryList) Find(id string) (Story, bool) {
	return findStory(l.Stories, id)
}

// Prepend returns a copy of the list with s placed first.
func (l StoryList) Prepend(s Story) StoryList {
	out := make([]Story, 0, len(l.Stories)+1)
	out = append(out, s)
	out = append(out, l.Stories...)
	return StoryList{Stories: out}
}

// Remove returns a copy of the list without the story with the given id.
func (l StoryList) Remove(id string) StoryList {
	return StoryList{Stories: removeStory(l.Stories, id)}
}

type User struct {
	Username   string    `json:"username"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	LoginToken string    `json:"-"`
	OwnStories []Story   `json:"stories"`
	Favorites  []Story   `json:"favorites"`
}

func (u *User) IsFavorite(id string) bool {
	if u == nil {
		return false
	}
	_, ok := findStory(u.Favorites, id)
	return ok
}

func (u *User) IsOwn(id string) bool {
	if u == nil {
		return false
	}
	_, ok := findStory(u.OwnStories, id)
	return ok
}

// Clone returns a deep copy so callers can derive a new user without
// touching slices shared with an older snapshot.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.OwnStories = append([]Story(nil), u.OwnStories...)
	c.Favorites = append([]Story(nil), u.Favorites...)
	return &c
}

// WithoutStory returns a copy of the user with id dropped from both own
// stories and favorites.
func (u *User) WithoutStory(id string) *User {
	if u == nil {
		return nil
	}
	c := u.Clone()
	c.OwnStories = removeStory(c.OwnStories, id)
	c.Favorites = removeStory(c.Favorites, id)
	return c
}

// WithFavorite returns a copy of the user with s added to or removed from
// favorites. Adding an existing favorite is a no-op.
func (u *User) WithFavorite(s Story, favorite bool) *User {
	if u == nil {
		return nil
	}
	c := u.Clone()
	if favorite {
		if !c.IsFavorite(s.ID) {
			c.Favorites = append(c.Favorites, s)
		}
		return c
	}
	c.Favorites = removeStory(c.Favorites, s.ID)
	return c
}

// WithOwnStory returns a copy of the user with s prepended to own stories.
func (u *User) WithOwnStory(s Story) *User {
	if u == nil {
		return nil
	}
	c := u.Clone()
	c.OwnStories = append([]Story{s}, removeStory(c.OwnStories, s.ID)...)
	return c
}

func findStory(stories []Story, id string) (Story, bool) {
	for _, s := range stories {
		if s.ID == id {
			return s, true
		}
	}
	return Story{}, false
}

func removeStory(stories []Story, id string) []Story {
	out := make([]Story, 0, len(stories))
	for _, s := range stories {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

type Session struct {
	IDHash    string
	Username  string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}
