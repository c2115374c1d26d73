package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Session application service
// ---------------------------------------------------------------------------

// Session is a logged-in dashboard user.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionService issues and resolves opaque session tokens. Sessions live in
// a KV whose ttl bounds their lifetime.
type SessionService struct {
	kv  platform.KV
	now domain.Clock
}

// NewSessionService creates a new session service.
func NewSessionService(kv platform.KV, now domain.Clock) *SessionService {
	if now == nil {
		now = domain.SystemClock
	}
	return &SessionService{kv: kv, now: now}
}

// Create stores a session for the user and returns its token.
func (s *SessionService) Create(ctx context.Context, userID, username string) (string, error) {
	if userID == "" {
		return "", errors.New("session: empty user id")
	}
	raw, err := json.Marshal(Session{UserID: userID, Username: username, CreatedAt: s.now()})
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := s.kv.Set(ctx, sessionKey(token), raw); err != nil {
		return "", domain.ErrStorage.Wrap(fmt.Errorf("store session: %w", err))
	}
	return token, nil
}

// Get resolves token. Unknown or expired tokens yield domain.ErrUnauthorized.
func (s *SessionService) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	raw, ok, err := s.kv.Get(ctx, sessionKey(token))
	if err != nil {
		return nil, domain.ErrStorage.Wrap(fmt.Errorf("load session: %w", err))
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, domain.ErrUnauthorized
	}
	return &sess, nil
}

// Delete ends the session. Unknown tokens are ignored.
func (s *SessionService) Delete(ctx context.Context, token string) error {
	if err := s.kv.Delete(ctx, sessionKey(token)); err != nil {
		return domain.ErrStorage.Wrap(fmt.Errorf("delete session: %w", err))
	}
	return nil
}

func sessionKey(token string) string { return "session:" + token }
