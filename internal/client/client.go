// Package client provides a Go client for the Hack or Snooze story API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx answer from the story API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("story api: status %d", e.Status)
	}
	return fmt.Sprintf("story api: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Client is a Hack or Snooze API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	log        *slog.Logger
}

// New creates a new client. A nil logger discards client logs.
func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type ListOpts struct {
	Skip  int
	Limit int
}

type apiStory struct {
	StoryID   string    `json:"storyId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s apiStory) toModel() model.Story {
	return model.Story{
		ID:        s.StoryID,
		Title:     s.Title,
		URL:       s.URL,
		Author:    s.Author,
		Username:  s.Username,
		CreatedAt: s.CreatedAt,
	}
}

type apiUser struct {
	Username  string     `json:"username"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	Favorites []apiStory `json:"favorites"`
	Stories   []apiStory `json:"stories"`
}

func (u apiUser) toModel(token string) model.User {
	user := model.User{
		Username:   u.Username,
		Name:       u.Name,
		CreatedAt:  u.CreatedAt,
		LoginToken: token,
		OwnStories: make([]model.Story, 0, len(u.Stories)),
		Favorites:  make([]model.Story, 0, len(u.Favorites)),
	}
	for _, s := range u.Stories {
		user.OwnStories = append(user.OwnStories, s.toModel())
	}
	for _, s := range u.Favorites {
		user.Favorites = append(user.Favorites, s.toModel())
	}
	return user
}

// GetStories fetches the story list, newest first.
func (c *Client) GetStories(ctx context.Context, opts ListOpts) ([]model.Story, error) {
	q := url.Values{}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/stories"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Stories []apiStory `json:"stories"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("get stories: %w", err)
	}
	stories := make([]model.Story, 0, len(result.Stories))
	for _, s := range result.Stories {
		stories = append(stories, s.toModel())
	}
	return stories, nil
}

// AddStory creates a story as the token's owner. The API infers the
// username from the token.
func (c *Client) AddStory(ctx context.Context, token string, story model.NewStory) (model.Story, error) {
	reqBody := map[string]any{"token": token, "story": story}
	var result struct {
		Story apiStory `json:"story"`
	}
	if err := c.do(ctx, http.MethodPost, "/stories", reqBody, &result); err != nil {
		return model.Story{}, fmt.Errorf("add story: %w", err)
	}
	return result.Story.toModel(), nil
}

// RemoveStory deletes one of the token owner's stories.
func (c *Client) RemoveStory(ctx context.Context, token, storyID string) error {
	reqBody := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodDelete, "/stories/"+url.PathEscape(storyID), reqBody, nil); err != nil {
		return fmt.Errorf("remove story %s: %w", storyID, err)
	}
	return nil
}

// AddFavorite marks a story as a favorite and returns the updated user.
func (c *Client) AddFavorite(ctx context.Context, token, username, storyID string) (model.User, error) {
	return c.favorite(ctx, http.MethodPost, token, username, storyID)
}

// RemoveFavorite unmarks a story and returns the updated user.
func (c *Client) RemoveFavorite(ctx context.Context, token, username, storyID string) (model.User, error) {
	return c.favorite(ctx, http.MethodDelete, token, username, storyID)
}

func (c *Client) favorite(ctx context.Context, method, token, username, storyID string) (model.User, error) {
	path := fmt.Sprintf("/users/%s/favorites/%s", url.PathEscape(username), url.PathEscape(storyID))
	var result struct {
		User apiUser `json:"user"`
	}
	if err := c.do(ctx, method, path, map[string]string{"token": token}, &result); err != nil {
		return model.User{}, fmt.Errorf("favorite %s %s: %w", method, storyID, err)
	}
	return result.User.toModel(token), nil
}

// Login exchanges credentials for a user with a login token.
func (c *Client) Login(ctx context.Context, username, password string) (model.User, error) {
	reqBody := map[string]any{"user": map[string]string{"username": username, "password": password}}
	return c.authenticate(ctx, "/login", reqBody)
}

// Signup creates an account and returns the new user with a login token.
func (c *Client) Signup(ctx context.Context, name, username, password string) (model.User, error) {
	reqBody := map[string]any{"user": map[string]string{"name": name, "username": username, "password": password}}
	return c.authenticate(ctx, "/signup", reqBody)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (model.User, error) {
	var result struct {
		Token string  `json:"token"`
		User  apiUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return model.User{}, fmt.Errorf("%s: %w", path[1:], err)
	}
	return result.User.toModel(result.Token), nil
}

// GetUser loads a user with their own stories and favorites.
func (c *Client) GetUser(ctx context.Context, token, username string) (model.User, error) {
	path := "/users/" + url.PathEscape(username) + "?" + url.Values{"token": {token}}.Encode()
	var result struct {
		User apiUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return result.User.toModel(token), nil
}

// do performs a JSON request and decodes a 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "story api request failed", "method", method, "path", req.URL.Path, "error", err)
		return err
	}
	defer resp.Body.Close()
	c.log.DebugContext(ctx, "story api request", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "took", time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			apiErr.Message = nested.Message
		} else if err := json.Unmarshal(payload.Error, &flat); err == nil {
			apiErr.Message = flat
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
