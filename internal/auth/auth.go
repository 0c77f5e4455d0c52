package auth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
	"github.com/alphabot-ai/hackorsnooze/internal/store"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = errors.New("session expired")
)

// Service binds browser sessions to story API login tokens. Credentials are
// checked by the story API; this service never sees passwords after login.
// Session ids are stored as keyed hashes and tokens sealed with a key
// derived from the same secret.
type Service struct {
	store store.SessionStore
	key   []byte
	aead  cipher.AEAD
	ttl   time.Duration
	now   func() time.Time
}

// Verified is an authenticated session. Username and Token are empty for
// anonymous viewers.
type Verified struct {
	SessionID string
	Username  string
	Token     string
	ExpiresAt time.Time
}

func (v Verified) LoggedIn() bool { return v.Username != "" && v.Token != "" }

func NewService(st store.SessionStore, hashSecret string, ttl time.Duration) *Service {
	key := []byte(hashSecret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	mac, err := blake2b.New256(key)
	if err != nil {
		panic(err)
	}
	mac.Write([]byte("hackorsnooze session token"))
	aead, err := chacha20poly1305.NewX(mac.Sum(nil))
	if err != nil {
		// The derived key is always chacha20poly1305.KeySize long.
		panic(err)
	}
	return &Service{store: st, key: key, aead: aead, ttl: ttl, now: time.Now}
}

// Begin starts an anonymous session and returns its id.
func (s *Service) Begin(ctx context.Context) (Verified, error) {
	id := uuid.NewString()
	now := s.now()
	sess := model.Session{
		IDHash:    s.hash(id),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Verified{}, fmt.Errorf("create session: %w", err)
	}
	return Verified{SessionID: id, ExpiresAt: sess.ExpiresAt}, nil
}

// Authenticate resolves a session id from a cookie. Sessions past half their
// lifetime are extended.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (Verified, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return Verified{}, ErrInvalidSession
	}
	idHash := s.hash(sessionID)
	sess, err := s.store.GetSession(ctx, idHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Verified{}, ErrInvalidSession
		}
		return Verified{}, err
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, idHash)
		return Verified{}, ErrSessionExpired
	}
	if sess.ExpiresAt.Sub(now) < s.ttl/2 {
		sess.ExpiresAt = now.Add(s.ttl)
		if err := s.store.TouchSession(ctx, idHash, sess.ExpiresAt); err != nil {
			return Verified{}, err
		}
	}
	v := Verified{SessionID: sessionID, ExpiresAt: sess.ExpiresAt}
	if sess.Username != "" && sess.Token != "" {
		token, err := s.open(idHash, sess.Token)
		if err != nil {
			// Sealed under another secret; the viewer logs in again.
			return v, nil
		}
		v.Username, v.Token = sess.Username, token
	}
	return v, nil
}

// Attach records the login token of username on the session.
func (s *Service) Attach(ctx context.Context, sessionID, username, token string) error {
	idHash := s.hash(sessionID)
	sealed, err := s.seal(idHash, token)
	if err != nil {
		return fmt.Errorf("attach user: %w", err)
	}
	if err := s.store.AttachUser(ctx, idHash, username, sealed); err != nil {
		return fmt.Errorf("attach user: %w", err)
	}
	return nil
}

// Detach forgets the login token but keeps the session.
func (s *Service) Detach(ctx context.Context, sessionID string) error {
	err := s.store.DetachUser(ctx, s.hash(sessionID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("detach user: %w", err)
	}
	return nil
}

// End deletes the session.
func (s *Service) End(ctx context.Context, sessionID string) error {
	err := s.store.DeleteSession(ctx, s.hash(sessionID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Sweep removes expired sessions and reports how many were deleted.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now())
}

func (s *Service) hash(sessionID string) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only reachable with a key longer than blake2b.Size, which NewService prevents.
		panic(err)
	}
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// seal encrypts token for the session row idHash, which it is bound to.
func (s *Service) seal(idHash, token string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return hex.EncodeToString(s.aead.Seal(nonce, nonce, []byte(token), []byte(idHash))), nil
}

func (s *Service) open(idHash, sealed string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}
	nonce, box := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, box, []byte(idHash))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
