package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/hackorsnooze/internal/app"
	"github.com/alphabot-ai/hackorsnooze/internal/auth"
	"github.com/alphabot-ai/hackorsnooze/internal/client"
	"github.com/alphabot-ai/hackorsnooze/internal/config"
	"github.com/alphabot-ai/hackorsnooze/internal/rate"
	"github.com/alphabot-ai/hackorsnooze/internal/view"
)

const sessionCookie = "hos_session"

type Server struct {
	app     *app.Service
	auth    *auth.Service
	limiter rate.Limiter
	cfg     config.Config
	view    *view.Renderer
	log     *slog.Logger
	proxies []netip.Prefix
	handler http.Handler
}

func NewServer(svc *app.Service, authSvc *auth.Service, limiter rate.Limiter, cfg config.Config, log *slog.Logger) (*Server, error) {
	renderer, err := view.New()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	proxies, err := parseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{app: svc, auth: authSvc, limiter: limiter, cfg: cfg, view: renderer, log: log, proxies: proxies}
	s.handler = s.logRequests(s.routes())
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.withSession(s.handleHome))
	mux.HandleFunc("GET /views/{view}", s.withSession(s.handleView))
	mux.HandleFunc("POST /stories", s.withSession(s.handleSubmitStory))
	mux.HandleFunc("DELETE /stories/{id}", s.withSession(s.handleDeleteStory))
	mux.HandleFunc("POST /stories/{id}/favorite", s.withSession(s.handleToggleFavorite))
	mux.HandleFunc("GET /login", s.withSession(s.handleLoginPage))
	mux.HandleFunc("POST /login", s.withSession(s.handleLogin))
	mux.HandleFunc("POST /signup", s.withSession(s.handleSignup))
	mux.HandleFunc("POST /logout", s.withSession(s.handleLogout))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /favicon.svg", s.serveFavicon)
	mux.HandleFunc("GET /static/app.css", s.serveAppCSS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { notFound(w) })
	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, v auth.Verified)

// withSession resolves the session cookie, issuing a fresh anonymous session
// when it is missing, unknown or expired, and reloads the logged-in user
// after a restart.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.resolveSession(r.Context(), r)
		if err != nil {
			s.log.ErrorContext(r.Context(), "resolve session", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("session unavailable"))
			return
		}
		s.setSessionCookie(w, v)
		next(w, r, v)
	}
}

func (s *Server) resolveSession(ctx context.Context, r *http.Request) (auth.Verified, error) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		v, err := s.auth.Authenticate(ctx, c.Value)
		switch {
		case err == nil:
			return s.restoreUser(ctx, v), nil
		case errors.Is(err, auth.ErrInvalidSession), errors.Is(err, auth.ErrSessionExpired):
			s.app.Forget(c.Value)
		default:
			return auth.Verified{}, err
		}
	}
	return s.auth.Begin(ctx)
}

func (s *Server) restoreUser(ctx context.Context, v auth.Verified) auth.Verified {
	if !v.LoggedIn() {
		return v
	}
	if _, err := s.app.RestoreUser(ctx, v.SessionID, v.Username, v.Token); err != nil {
		if !errors.Is(err, client.ErrUnauthorized) {
			// The API may be down; keep the binding and retry next request.
			s.log.WarnContext(ctx, "restore user", "username", v.Username, "error", err)
			return v
		}
		s.log.InfoContext(ctx, "stale login token dropped", "username", v.Username)
		if err := s.auth.Detach(ctx, v.SessionID); err != nil {
			s.log.WarnContext(ctx, "detach session", "error", err)
		}
		v.Username, v.Token = "", ""
	}
	return v
}

func (s *Server) setSessionCookie(w http.ResponseWriter, v auth.Verified) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    v.SessionID,
		Path:     "/",
		Expires:  v.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.cfg.Version})
}

func (s *Server) serveFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(faviconSVG)
}

func (s *Server) serveAppCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(appCSS)
}

// allowRateLimit checks limit per client IP and per session.
func (s *Server) allowRateLimit(r *http.Request, sessionID, action string, limit int) (bool, time.Duration) {
	if limit <= 0 {
		return true, 0
	}
	if ok, retry := s.limiter.Allow(rate.Key(action, "ip", s.clientIP(r)), limit, time.Minute); !ok {
		return false, retry
	}
	if sessionID != "" {
		if ok, retry := s.limiter.Allow(rate.Key(action, "session", sessionID), limit, time.Minute); !ok {
			return false, retry
		}
	}
	return true, 0
}

// clientIP is the peer address, or the nearest untrusted hop of
// X-Forwarded-For when the peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (s *Server) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseProxies(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// errRateLimited carries the wait before the next allowed attempt.
type errRateLimited struct{ retry time.Duration }

func (e errRateLimited) Error() string {
	return "too many requests, try again in " + strconv.Itoa(int(e.retry.Seconds())+1) + "s"
}

// statusFor maps service and API errors onto HTTP statuses.
func statusFor(err error) int {
	var apiErr *client.APIError
	var limited errRateLimited
	switch {
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.Is(err, app.ErrNotLoggedIn), errors.Is(err, client.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrStoryNotFound), errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// userMessage is the text shown in the error banner for err.
func userMessage(err error) string {
	var apiErr *client.APIError
	var limited errRateLimited
	switch {
	case errors.As(err, &limited):
		return limited.Error()
	case errors.Is(err, app.ErrNotLoggedIn):
		return "Log in to do that."
	case errors.Is(err, app.ErrStoryNotFound), errors.Is(err, client.ErrNotFound):
		return "That story no longer exists."
	case errors.Is(err, client.ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "The story service took too long to answer. Try again."
	default:
		return "Something went wrong talking to the story service. Try again."
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}
