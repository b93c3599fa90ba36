package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"social-realtime/internal/models"
	"social-realtime/internal/repositories"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the profile snapshot a connection carries for its lifetime.
type Identity struct {
	UserID    string
	Username  string
	FullName  string
	AvatarURL string
}

func (i Identity) SenderInfo() models.SenderInfo {
	return models.SenderInfo{ID: i.UserID, Username: i.Username, FullName: i.FullName, AvatarURL: i.AvatarURL}
}

// Authenticator resolves a bearer token to an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type userLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// JWTAuthenticator verifies HS256 tokens and resolves their subject through the user store.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	users  userLookup
}

func NewJWTAuthenticator(secret, issuer string, users userLookup) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, users: users}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	user, err := a.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return Identity{}, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolve user: %w", err)
	}
	return Identity{
		UserID:    user.ID,
		Username:  user.Username,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
	}, nil
}

// TokenFromRequest reads the bearer token from the Authorization header, falling back to ?token=.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
