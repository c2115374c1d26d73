// API authentication: Discord OAuth2 login issuing session tokens.
//
// GET /api/auth/login redirects to Discord. The callback exchanges the code,
// looks up the Discord user and issues a session token, set as the
// embedg_session cookie. Protected routes accept either the cookie or:
//
//	Authorization: Bearer <session token>
//
// The requesting user of every protected route is the session's user.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/embedg/embedg/pkg/app"
	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/logger"
)

const (
	sessionCookie = "embedg_session"
	stateCookie   = "embedg_oauth_state"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

func discordOAuthConfig(cfg config.DiscordConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ApplicationID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"identify", "guilds"},
		Endpoint:     discordEndpoint,
	}
}

// UserFetcher resolves the Discord user an access token belongs to.
type UserFetcher func(ctx context.Context, token *oauth2.Token) (*discordgo.User, error)

func fetchDiscordUser(ctx context.Context, token *oauth2.Token) (*discordgo.User, error) {
	s, err := discordgo.New("Bearer " + token.AccessToken)
	if err != nil {
		return nil, err
	}
	return s.User("@me", discordgo.WithContext(ctx))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *app.Session)

// requireSession rejects requests without a valid session.
func (s *Server) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.container.Sessions.Get(r.Context(), extractToken(r))
		if err != nil {
			if domain.KindOf(err) == domain.KindAccessDenied {
				w.Header().Set("WWW-Authenticate", `Bearer realm="embedg"`)
			}
			writeError(w, err)
			return
		}
		next(w, r, sess)
	}
}

// extractToken pulls the session token from the Authorization header or the
// session cookie.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// --- Handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]errorBody{
			"error": {Code: "oauth_disabled", Message: "Discord login is not configured"},
		})
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]errorBody{
			"error": {Code: "oauth_disabled", Message: "Discord login is not configured"},
		})
		return
	}

	q := r.URL.Query()
	state, err := r.Cookie(stateCookie)
	if err != nil || !tokenValid(q.Get("state"), state.Value) {
		writeError(w, domain.InvalidRequest("OAuth state mismatch, please retry the login"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/auth", MaxAge: -1})

	token, err := s.oauth.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		logger.WarnCF("auth", "OAuth code exchange failed", map[string]interface{}{"error": err})
		writeError(w, domain.ErrUnauthorized)
		return
	}
	user, err := s.fetchUser(r.Context(), token)
	if err != nil {
		writeError(w, domain.ErrPlatform.Wrap(err))
		return
	}

	sessionToken, err := s.container.Sessions.Create(r.Context(), user.ID, user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.InfoCF("auth", "User logged in", map[string]interface{}{"user_id": user.ID})

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionToken,
		Path:     "/",
		MaxAge:   int(s.config.API.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := extractToken(r); token != "" {
		if err := s.container.Sessions.Delete(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	writeJSON(w, http.StatusOK, sess)
}

// tokenValid does a constant-time comparison to prevent timing attacks.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
