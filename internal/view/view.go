// Package view renders story markup: single story items, whole story lists,
// and the pages that host them.
package view

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// DatastarURL is the client bundle the pages load.
const DatastarURL = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"

// ListKind names one of the three story containers on the page.
type ListKind int

const (
	ListAll ListKind = iota
	ListOwn
	ListFavorites
)

// ContainerID is the DOM id of the list element.
func (k ListKind) ContainerID() string {
	switch k {
	case ListOwn:
		return "my-stories"
	case ListFavorites:
		return "favorited-stories"
	default:
		return "all-stories-list"
	}
}

// EmptyMessage is shown in place of items when the list is empty. The main
// list has none.
func (k ListKind) EmptyMessage() string {
	switch k {
	case ListOwn:
		return "No stories added by user yet..."
	case ListFavorites:
		return "No favorites added yet?"
	default:
		return ""
	}
}

// Owner reports whether items in this list carry a delete control.
func (k ListKind) Owner() bool { return k == ListOwn }

// View is the value of the "view" signal that shows this list.
func (k ListKind) View() string {
	switch k {
	case ListOwn:
		return "own"
	case ListFavorites:
		return "favorites"
	default:
		return "all"
	}
}

func (k ListKind) prefix() string {
	switch k {
	case ListOwn:
		return "own"
	case ListFavorites:
		return "fav"
	default:
		return "all"
	}
}

// ItemID is the DOM id of storyID's item within this list. A story can
// appear in several lists at once, so ids are scoped per list.
func (k ListKind) ItemID(storyID string) string { return k.prefix() + "-" + storyID }

// StarID is the DOM id of storyID's favorite star within this list.
func (k ListKind) StarID(storyID string) string { return k.prefix() + "-star-" + storyID }

// ParseListKind maps a view name back to its list.
func ParseListKind(view string) (ListKind, bool) {
	switch view {
	case "all":
		return ListAll, true
	case "own":
		return ListOwn, true
	case "favorites":
		return ListFavorites, true
	}
	return ListAll, false
}

type Renderer struct {
	home  *template.Template
	login *template.Template
	now   func() time.Time
}

func New() (*Renderer, error) {
	home, err := parsePage("home")
	if err != nil {
		return nil, err
	}
	login, err := parsePage("login")
	if err != nil {
		return nil, err
	}
	return &Renderer{home: home, login: login, now: time.Now}, nil
}

func parsePage(name string) (*template.Template, error) {
	t, err := template.New("layout").ParseFS(templateFS,
		"templates/layout.html",
		"templates/stories.html",
		"templates/"+name+".html",
	)
	if err != nil {
		return nil, fmt.Errorf("parse %s templates: %w", name, err)
	}
	return t, nil
}

type itemData struct {
	ItemID     string
	StarID     string
	Story      model.Story
	HostName   string
	ShowDelete bool
	ShowStar   bool
	Favorited  bool
	Age        string
}

type listData struct {
	ContainerID  string
	Empty        bool
	EmptyMessage string
	Items        []template.HTML
}

func (r *Renderer) item(kind ListKind, story model.Story, viewer *model.User, owner bool) itemData {
	d := itemData{
		ItemID:     kind.ItemID(story.ID),
		StarID:     kind.StarID(story.ID),
		Story:      story,
		HostName:   story.HostName(),
		ShowDelete: owner,
		ShowStar:   viewer != nil,
		Favorited:  viewer.IsFavorite(story.ID),
	}
	if !story.CreatedAt.IsZero() {
		d.Age = humanize.RelTime(story.CreatedAt, r.now(), "ago", "from now")
	}
	return d
}

// StoryItem renders one list item. The star appears only for a logged-in
// viewer, solid when the story is among their favorites. The delete control
// follows owner alone.
func (r *Renderer) StoryItem(kind ListKind, story model.Story, viewer *model.User, owner bool) (template.HTML, error) {
	s, err := r.exec("story-item", r.item(kind, story, viewer, owner))
	return template.HTML(s), err
}

// Star renders the favorite control of one item, for patching in place.
func (r *Renderer) Star(kind ListKind, story model.Story, viewer *model.User) (string, error) {
	return r.exec("star", r.item(kind, story, viewer, false))
}

// RenderList renders the whole container for kind, replacing whatever it
// held. An empty own or favorites list shows its placeholder and no items.
func (r *Renderer) RenderList(kind ListKind, stories []model.Story, viewer *model.User) (string, error) {
	d := listData{ContainerID: kind.ContainerID(), EmptyMessage: kind.EmptyMessage()}
	d.Empty = len(stories) == 0 && d.EmptyMessage != ""
	d.Items = make([]template.HTML, 0, len(stories))
	for _, s := range stories {
		h, err := r.StoryItem(kind, s, viewer, kind.Owner())
		if err != nil {
			return "", err
		}
		d.Items = append(d.Items, h)
	}
	return r.exec("story-list", d)
}

// Loading renders kind's container holding only the loading message.
func (r *Renderer) Loading(kind ListKind) (string, error) {
	return r.exec("stories-loading", kind.ContainerID())
}

// ErrorBanner renders the banner holding msg. An empty msg clears it.
func (r *Renderer) ErrorBanner(msg string) (string, error) {
	return r.exec("error-banner", msg)
}

func (r *Renderer) exec(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.home.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Page is everything the home page shows for one session.
type Page struct {
	User    *model.User
	Stories []model.Story
	View    ListKind
	Error   string
}

type pageData struct {
	Title       string
	DatastarURL string
	Signals     string
	User        *model.User
	Error       string
	Username    string
	AllStories  template.HTML
	OwnStories  template.HTML
	Favorites   template.HTML
}

// InitialSignals is the client signal set a fresh page starts with.
func InitialSignals(view ListKind) map[string]any {
	return map[string]any{
		"view":       view.View(),
		"showSubmit": false,
		"title":      "",
		"url":        "",
		"author":     "",
	}
}

func signalsJSON(view ListKind) string {
	b, _ := json.Marshal(InitialSignals(view))
	return string(b)
}

func (r *Renderer) WritePage(w io.Writer, p Page) error {
	d := pageData{
		Title:       "Hack or Snooze",
		DatastarURL: DatastarURL,
		Signals:     signalsJSON(p.View),
		User:        p.User,
		Error:       p.Error,
	}
	all, err := r.RenderList(ListAll, p.Stories, p.User)
	if err != nil {
		return err
	}
	d.AllStories = template.HTML(all)
	if p.User != nil {
		own, err := r.RenderList(ListOwn, p.User.OwnStories, p.User)
		if err != nil {
			return err
		}
		favs, err := r.RenderList(ListFavorites, p.User.Favorites, p.User)
		if err != nil {
			return err
		}
		d.OwnStories = template.HTML(own)
		d.Favorites = template.HTML(favs)
	}
	return r.home.ExecuteTemplate(w, "layout", d)
}

// WriteLogin renders the login and signup forms. username refills the login
// field after a failed attempt.
func (r *Renderer) WriteLogin(w io.Writer, username, errMsg string) error {
	return r.login.ExecuteTemplate(w, "layout", pageData{
		Title:       "Hack or Snooze | login",
		DatastarURL: DatastarURL,
		Signals:     signalsJSON(ListAll),
		Error:       errMsg,
		Username:    username,
	})
}
