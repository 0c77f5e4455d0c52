package httpapp

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/alphabot-ai/hackorsnooze/internal/app"
	"github.com/alphabot-ai/hackorsnooze/internal/auth"
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	if s.app.State(v.SessionID).LoggedIn() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderLogin(w, r, http.StatusOK, "", "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	if err := r.ParseForm(); err != nil {
		s.renderLogin(w, r, http.StatusBadRequest, "", "Could not read the form.")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if ok, retry := s.allowRateLimit(r, v.SessionID, "login", s.cfg.RateLimits.LoginPerMinute); !ok {
		s.renderLogin(w, r, http.StatusTooManyRequests, username, errRateLimited{retry}.Error())
		return
	}

	st, err := s.app.Login(r.Context(), v.SessionID, username, password)
	s.finishLogin(w, r, v, username, st, err)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	if err := r.ParseForm(); err != nil {
		s.renderLogin(w, r, http.StatusBadRequest, "", "Could not read the form.")
		return
	}
	name := r.PostForm.Get("name")
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if ok, retry := s.allowRateLimit(r, v.SessionID, "login", s.cfg.RateLimits.LoginPerMinute); !ok {
		s.renderLogin(w, r, http.StatusTooManyRequests, "", errRateLimited{retry}.Error())
		return
	}

	st, err := s.app.Signup(r.Context(), v.SessionID, name, username, password)
	s.finishLogin(w, r, v, "", st, err)
}

// finishLogin binds the new login token to the session so a restart does not
// log the viewer out, then sends them home.
func (s *Server) finishLogin(w http.ResponseWriter, r *http.Request, v auth.Verified, username string, st app.State, err error) {
	if err != nil {
		s.renderLogin(w, r, statusFor(err), username, loginMessage(err))
		return
	}
	if err := s.auth.Attach(r.Context(), v.SessionID, st.User.Username, st.User.LoginToken); err != nil {
		s.log.ErrorContext(r.Context(), "attach session", "error", err)
		s.app.Logout(v.SessionID)
		s.renderLogin(w, r, http.StatusInternalServerError, username, "Could not save your session. Try again.")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"user": st.User})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, v auth.Verified) {
	s.app.Logout(v.SessionID)
	if err := s.auth.Detach(r.Context(), v.SessionID); err != nil {
		s.log.WarnContext(r.Context(), "detach session", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, username, msg string) {
	if wantsJSON(r) {
		if msg == "" {
			writeJSON(w, status, map[string]any{})
		} else {
			writeError(w, status, errors.New(msg))
		}
		return
	}
	var buf bytes.Buffer
	if err := s.view.WriteLogin(&buf, username, msg); err != nil {
		s.log.ErrorContext(r.Context(), "render login", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("render failed"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// loginMessage avoids telling apart unknown users and wrong passwords.
func loginMessage(err error) string {
	if statusFor(err) == http.StatusUnauthorized || statusFor(err) == http.StatusNotFound {
		return "Invalid username or password."
	}
	return userMessage(err)
}
