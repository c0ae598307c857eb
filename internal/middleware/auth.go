package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

type contextKey string

const (
	UserIDKey  contextKey = "userID"
	SessionKey contextKey = "session"
)

// SessionVerifier checks dashboard session tokens.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*services.Session, error)
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// IDTokenVerifier is the part of the Firebase Auth client that checks ID tokens.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// SessionAuth requires a Bearer session token. When idTokens is set, a token
// that is not a valid session token is tried as a Firebase ID token.
func SessionAuth(sessions SessionVerifier, idTokens IDTokenVerifier, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Authorization header required"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid authorization header format"))
				return
			}
			token := parts[1]

			session, err := sessions.Verify(r.Context(), token)
			if err != nil && !errors.Is(err, services.ErrSessionRevoked) && idTokens != nil {
				session, err = verifyIDToken(r.Context(), idTokens, sessions, token)
			}
			if err != nil {
				if errors.Is(err, services.ErrSessionRevoked) {
					writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Session has been signed out"))
					return
				}
				log.Debug().Err(err).Msg("token rejected")
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, session.Principal.UserID)
			ctx = context.WithValue(ctx, SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// verifyIDToken maps a Firebase ID token to a session keyed by uid and issue
// time, so a refreshed token starts a new session.
func verifyIDToken(ctx context.Context, idTokens IDTokenVerifier, sessions SessionVerifier, idToken string) (*services.Session, error) {
	tok, err := idTokens.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("firebase:%s:%d", tok.UID, tok.IssuedAt)
	revoked, err := sessions.IsRevoked(ctx, id)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, services.ErrSessionRevoked
	}

	email, _ := tok.Claims["email"].(string)
	name, _ := tok.Claims["name"].(string)
	return &services.Session{
		ID: id,
		Principal: models.Principal{
			UserID:      tok.UID,
			Email:       email,
			DisplayName: name,
		},
		ExpiresAt: time.Unix(tok.Expires, 0),
	}, nil
}

// GetUserID returns the signed-in administrator's id, or "" outside SessionAuth.
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetSession returns the verified session, or nil outside SessionAuth.
func GetSession(ctx context.Context) *services.Session {
	session, _ := ctx.Value(SessionKey).(*services.Session)
	return session
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
