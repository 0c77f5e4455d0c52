package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	SessionStore
	Close() error
}

// SessionStore persists the login token bound to a browser session. Session
// ids are only ever stored hashed.
type SessionStore interface {
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, idHash string) (model.Session, error)
	AttachUser(ctx context.Context, idHash, username, token string) error
	DetachUser(ctx context.Context, idHash string) error
	TouchSession(ctx context.Context, idHash string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, idHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	CountSessions(ctx context.Context) (int64, error)
}
