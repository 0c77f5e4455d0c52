package httpapp

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/alphabot-ai/hackorsnooze/internal/app"
	"github.com/alphabot-ai/hackorsnooze/internal/auth"
	"github.com/alphabot-ai/hackorsnooze/internal/model"
	"github.com/alphabot-ai/hackorsnooze/internal/view"
)

// handleHome loads the story list and renders the whole page. A failed
// load still renders, from the last list the session saw, with the error
// shown in the banner.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	st, err := s.app.Bootstrap(r.Context(), v.SessionID)
	if err != nil {
		s.log.WarnContext(r.Context(), "load stories", "error", err)
	}

	if wantsJSON(r) {
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		payload := map[string]any{"stories": st.Stories.Stories}
		if st.User != nil {
			payload["user"] = st.User
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	page := view.Page{User: st.User, Stories: st.Stories.Stories}
	if err != nil {
		page.Error = userMessage(err)
	}
	var buf bytes.Buffer
	if err := s.view.WritePage(&buf, page); err != nil {
		s.log.ErrorContext(r.Context(), "render page", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("render failed"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleView switches the visible list. The main list is re-fetched, showing
// the loading message until it arrives; the user's lists come from the
// session state.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	kind, ok := view.ParseListKind(r.PathValue("view"))
	if !ok {
		notFound(w)
		return
	}
	sse := datastar.NewSSE(w, r)

	var st app.State
	if kind == view.ListAll {
		if html, err := s.view.Loading(kind); err == nil {
			_ = sse.PatchElements(html)
		}
		var err error
		st, err = s.app.Bootstrap(r.Context(), v.SessionID)
		if err != nil {
			// Put the previous list back in place of the loading message.
			s.patchLists(sse, st, view.ListAll)
			s.patchError(sse, err)
			return
		}
	} else {
		st = s.app.State(v.SessionID)
		if !st.LoggedIn() {
			s.patchError(sse, app.ErrNotLoggedIn)
			return
		}
	}

	s.patchLists(sse, st, kind)
	s.clearError(sse)
	_ = sse.MarshalAndPatchSignals(map[string]any{"view": kind.View(), "showSubmit": false})
}

type submitSignals struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Author string `json:"author"`
}

// handleSubmitStory posts a new story, puts it at the top of the main list
// without a re-fetch, and collapses and clears the form.
func (s *Server) handleSubmitStory(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	var in submitSignals
	if err := datastar.ReadSignals(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sse := datastar.NewSSE(w, r)
	if ok, retry := s.allowRateLimit(r, v.SessionID, "submit", s.cfg.RateLimits.SubmitPerMinute); !ok {
		s.patchError(sse, errRateLimited{retry})
		return
	}

	story, st, err := s.app.SubmitStory(r.Context(), v.SessionID, model.NewStory{
		Title:  in.Title,
		URL:    in.URL,
		Author: in.Author,
	})
	if err != nil {
		s.patchError(sse, err)
		return
	}

	item, err := s.view.StoryItem(view.ListAll, story, st.User, false)
	if err != nil {
		s.log.ErrorContext(r.Context(), "render story", "story_id", story.ID, "error", err)
		s.patchLists(sse, st, view.ListAll)
	} else {
		_ = sse.PatchElements(string(item),
			datastar.WithSelector("#"+view.ListAll.ContainerID()),
			datastar.WithMode(datastar.ElementPatchModePrepend),
		)
	}
	s.patchLists(sse, st, view.ListOwn)
	s.clearError(sse)
	_ = sse.MarshalAndPatchSignals(map[string]any{
		"title":      "",
		"url":        "",
		"author":     "",
		"showSubmit": false,
	})
}

// handleDeleteStory deletes one of the user's stories and re-renders every
// list from the updated state, so the story vanishes everywhere at once.
func (s *Server) handleDeleteStory(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	id := r.PathValue("id")
	sse := datastar.NewSSE(w, r)
	if ok, retry := s.allowRateLimit(r, v.SessionID, "delete", s.cfg.RateLimits.DeletePerMinute); !ok {
		s.patchError(sse, errRateLimited{retry})
		return
	}

	st, err := s.app.DeleteStory(r.Context(), v.SessionID, id)
	if err != nil {
		s.patchError(sse, err)
		return
	}
	s.patchLists(sse, st, view.ListOwn, view.ListAll, view.ListFavorites)
	s.clearError(sse)
}

// handleToggleFavorite flips the favorite mark of a story, redraws its star
// wherever it is shown and re-renders the favorites list.
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	id := r.PathValue("id")
	sse := datastar.NewSSE(w, r)
	if ok, retry := s.allowRateLimit(r, v.SessionID, "favorite", s.cfg.RateLimits.FavoritePerMinute); !ok {
		s.patchError(sse, errRateLimited{retry})
		return
	}

	favorite, st, err := s.app.ToggleFavorite(r.Context(), v.SessionID, id)
	if err != nil {
		s.patchError(sse, err)
		return
	}
	s.log.DebugContext(r.Context(), "favorite", "story_id", id, "favorite", favorite)

	if story, ok := st.FindStory(id); ok {
		if _, inAll := st.Stories.Find(id); inAll {
			s.patchStar(sse, view.ListAll, story, st.User)
		}
		if st.User.IsOwn(id) {
			s.patchStar(sse, view.ListOwn, story, st.User)
		}
	}
	s.patchLists(sse, st, view.ListFavorites)
	s.clearError(sse)
}

// patchLists replaces each named list container with a fresh rendering of
// st. The user's lists are skipped for anonymous sessions, whose pages do
// not carry them.
func (s *Server) patchLists(sse *datastar.ServerSentEventGenerator, st app.State, kinds ...view.ListKind) {
	for _, kind := range kinds {
		var stories []model.Story
		switch kind {
		case view.ListAll:
			stories = st.Stories.Stories
		case view.ListOwn:
			if st.User == nil {
				continue
			}
			stories = st.User.OwnStories
		case view.ListFavorites:
			if st.User == nil {
				continue
			}
			stories = st.User.Favorites
		}
		html, err := s.view.RenderList(kind, stories, st.User)
		if err != nil {
			s.log.ErrorContext(sse.Context(), "render list", "list", kind.ContainerID(), "error", err)
			continue
		}
		_ = sse.PatchElements(html)
	}
}

func (s *Server) patchStar(sse *datastar.ServerSentEventGenerator, kind view.ListKind, story model.Story, viewer *model.User) {
	html, err := s.view.Star(kind, story, viewer)
	if err != nil {
		s.log.ErrorContext(sse.Context(), "render star", "story_id", story.ID, "error", err)
		return
	}
	_ = sse.PatchElements(html)
}

// patchError shows err in the banner. Nothing else on the page changes.
func (s *Server) patchError(sse *datastar.ServerSentEventGenerator, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(sse.Context(), "action failed", "error", err)
	} else {
		s.log.InfoContext(sse.Context(), "action refused", "status", status, "error", err)
	}
	html, rerr := s.view.ErrorBanner(userMessage(err))
	if rerr != nil {
		s.log.ErrorContext(sse.Context(), "render error banner", "error", rerr)
		return
	}
	_ = sse.PatchElements(html)
}

func (s *Server) clearError(sse *datastar.ServerSentEventGenerator) {
	if html, err := s.view.ErrorBanner(""); err == nil {
		_ = sse.PatchElements(html)
	}
}
