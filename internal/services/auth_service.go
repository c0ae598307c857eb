package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/fndparking/admin/internal/models"
)

// Authenticator checks an administrator's credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.Principal, error)
}

// UserLookup is the part of the Firebase Auth client used to enrich a principal.
type UserLookup interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// FirebasePasswordAuthenticator signs in against Firebase Authentication's
// email/password provider.
type FirebasePasswordAuthenticator struct {
	relyingParty *identitytoolkit.RelyingpartyService
	users        UserLookup
}

func NewFirebasePasswordAuthenticator(ctx context.Context, apiKey string, users UserLookup) (*FirebasePasswordAuthenticator, error) {
	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("identity toolkit client: %w", err)
	}
	return &FirebasePasswordAuthenticator{relyingParty: svc.Relyingparty, users: users}, nil
}

func (a *FirebasePasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (*models.Principal, error) {
	resp, err := a.relyingParty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}

	principal := &models.Principal{
		UserID:      resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}
	if principal.DisplayName == "" && a.users != nil {
		if rec, err := a.users.GetUser(ctx, resp.LocalId); err == nil {
			principal.DisplayName = rec.DisplayName
		}
	}
	return principal, nil
}

// StaticAuthenticator accepts a single configured administrator.
type StaticAuthenticator struct {
	email        string
	passwordHash []byte
	displayName  string
}

func NewStaticAuthenticator(email, passwordHash, displayName string) *StaticAuthenticator {
	return &StaticAuthenticator{
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: []byte(passwordHash),
		displayName:  displayName,
	}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, email, password string) (*models.Principal, error) {
	if strings.ToLower(strings.TrimSpace(email)) != a.email {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &models.Principal{
		UserID:      "admin:" + a.email,
		Email:       a.email,
		DisplayName: a.displayName,
	}, nil
}

// Session is a verified dashboard session.
type Session struct {
	ID        string
	Principal models.Principal
	ExpiresAt time.Time
}

type sessionClaims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

const tokenIssuer = "fndparking-admin"

type AuthService struct {
	authenticator Authenticator
	revoker       SessionRevoker
	secret        []byte
	ttl           time.Duration
	now           func() time.Time
}

func NewAuthService(authenticator Authenticator, revoker SessionRevoker, jwtSecret string, ttl time.Duration) *AuthService {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &AuthService{
		authenticator: authenticator,
		revoker:       revoker,
		secret:        []byte(jwtSecret),
		ttl:           ttl,
		now:           time.Now,
	}
}

// Login authenticates the administrator and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	principal, err := s.authenticator.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.generateToken(principal)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, ExpiresAt: expiresAt, User: *principal}, nil
}

func (s *AuthService) generateToken(p *models.Principal) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		UserID:      p.UserID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a session token and rejects revoked sessions.
func (s *AuthService) Verify(ctx context.Context, tokenString string) (*Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionRevoked
	}

	return &Session{
		ID: claims.ID,
		Principal: models.Principal{
			UserID:      claims.UserID,
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
		},
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the session until its token would have expired.
func (s *AuthService) Logout(ctx context.Context, session *Session) error {
	return s.revoker.Revoke(ctx, session.ID, session.ExpiresAt)
}

// IsRevoked reports whether a session was ended by Logout.
func (s *AuthService) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	return s.revoker.IsRevoked(ctx, sessionID)
}
