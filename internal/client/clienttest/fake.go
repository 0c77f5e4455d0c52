// Package clienttest runs an in-memory Hack or Snooze API for tests.
package clienttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

type story struct {
	StoryID   string    `json:"storyId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type user struct {
	name      string
	username  string
	password  string
	token     string
	favorites []string
}

type failure struct {
	method string
	prefix string
	status int
}

// Fake is an httptest server speaking the story API.
type Fake struct {
	*httptest.Server

	mu       sync.Mutex
	stories  []story // newest first
	users    map[string]*user
	nextID   int
	failures []failure
	calls    map[string]int
}

func NewFake() *Fake {
	f := &Fake{users: make(map[string]*user), calls: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stories", f.handleListStories)
	mux.HandleFunc("POST /stories", f.handleAddStory)
	mux.HandleFunc("DELETE /stories/{id}", f.handleRemoveStory)
	mux.HandleFunc("POST /login", f.handleLogin)
	mux.HandleFunc("POST /signup", f.handleSignup)
	mux.HandleFunc("GET /users/{username}", f.handleGetUser)
	mux.HandleFunc("POST /users/{username}/favorites/{id}", f.handleFavorite)
	mux.HandleFunc("DELETE /users/{username}/favorites/{id}", f.handleFavorite)
	f.Server = httptest.NewServer(f.intercept(mux))
	return f
}

// AddUser registers an account and returns its login token.
func (f *Fake) AddUser(username, password, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &user{name: name, username: username, password: password, token: "tok-" + username}
	f.users[username] = u
	return u.token
}

// AddStory seeds a story owned by username and returns its id.
func (f *Fake) AddStory(username, title, url, author string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addStoryLocked(username, title, url, author).StoryID
}

// FailNext makes the next request whose method matches and whose path
// starts with prefix answer with status.
func (f *Fake) FailNext(method, prefix string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{method: method, prefix: prefix, status: status})
}

// Calls reports how many requests hit "METHOD /path-prefix".
func (f *Fake) Calls(method, prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, v := range f.calls {
		m, p, _ := strings.Cut(k, " ")
		if m == method && strings.HasPrefix(p, prefix) {
			n += v
		}
	}
	return n
}

// StoryIDs returns the current ids, newest first.
func (f *Fake) StoryIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.stories))
	for _, s := range f.stories {
		ids = append(ids, s.StoryID)
	}
	return ids
}

// Favorites returns the favorite ids of username.
func (f *Fake) Favorites(username string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		return append([]string(nil), u.favorites...)
	}
	return nil
}

func (f *Fake) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		for i, fl := range f.failures {
			if fl.method == r.Method && strings.HasPrefix(r.URL.Path, fl.prefix) {
				f.failures = append(f.failures[:i], f.failures[i+1:]...)
				f.mu.Unlock()
				writeError(w, fl.status, "injected failure")
				return
			}
		}
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *Fake) handleListStories(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 25
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []story{}
	for i := skip; i < len(f.stories) && len(out) < limit; i++ {
		out = append(out, f.stories[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": out})
}

func (f *Fake) handleAddStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Story struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Author string `json:"author"`
		} `json:"story"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.userByTokenLocked(req.Token)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if req.Story.Title == "" || req.Story.URL == "" || req.Story.Author == "" {
		writeError(w, http.StatusBadRequest, "story requires title, url and author")
		return
	}
	s := f.addStoryLocked(u.username, req.Story.Title, req.Story.URL, req.Story.Author)
	writeJSON(w, http.StatusCreated, map[string]any{"story": s})
}

func (f *Fake) handleRemoveStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.userByTokenLocked(req.Token)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	for i, s := range f.stories {
		if s.StoryID != id {
			continue
		}
		if s.Username != u.username {
			writeError(w, http.StatusForbidden, "not your story")
			return
		}
		f.stories = append(f.stories[:i], f.stories[i+1:]...)
		for _, other := range f.users {
			other.favorites = without(other.favorites, id)
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "deleted", "story": s})
		return
	}
	writeError(w, http.StatusNotFound, "story not found")
}

func (f *Fake) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[req.User.Username]
	if !ok || u.password != req.User.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": u.token, "user": f.userJSONLocked(u)})
}

func (f *Fake) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User struct {
			Name     string `json:"name"`
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[req.User.Username]; exists {
		writeError(w, http.StatusConflict, "username taken")
		return
	}
	u := &user{name: req.User.Name, username: req.User.Username, password: req.User.Password, token: "tok-" + req.User.Username}
	f.users[u.username] = u
	writeJSON(w, http.StatusCreated, map[string]any{"token": u.token, "user": f.userJSONLocked(u)})
}

func (f *Fake) handleGetUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.userByTokenLocked(r.URL.Query().Get("token"))
	if u == nil || u.username != r.PathValue("username") {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": f.userJSONLocked(u)})
}

func (f *Fake) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.userByTokenLocked(req.Token)
	if u == nil || u.username != r.PathValue("username") {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if _, ok := f.storyLocked(id); !ok {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}
	u.favorites = without(u.favorites, id)
	if r.Method == http.MethodPost {
		u.favorites = append(u.favorites, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "ok", "user": f.userJSONLocked(u)})
}

func (f *Fake) addStoryLocked(username, title, url, author string) story {
	f.nextID++
	s := story{
		StoryID:   fmt.Sprintf("story-%d", f.nextID),
		Title:     title,
		Author:    author,
		URL:       url,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	f.stories = append([]story{s}, f.stories...)
	return s
}

func (f *Fake) userByTokenLocked(token string) *user {
	for _, u := range f.users {
		if token != "" && u.token == token {
			return u
		}
	}
	return nil
}

func (f *Fake) storyLocked(id string) (story, bool) {
	for _, s := range f.stories {
		if s.StoryID == id {
			return s, true
		}
	}
	return story{}, false
}

func (f *Fake) userJSONLocked(u *user) map[string]any {
	own := []story{}
	for _, s := range f.stories {
		if s.Username == u.username {
			own = append(own, s)
		}
	}
	favs := []story{}
	for _, id := range u.favorites {
		if s, ok := f.storyLocked(id); ok {
			favs = append(favs, s)
		}
	}
	return map[string]any{
		"username":  u.username,
		"name":      u.name,
		"createdAt": time.Now().UTC(),
		"stories":   own,
		"favorites": favs,
	}
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"status": status, "message": msg}})
}
