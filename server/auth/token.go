// Package auth issues and verifies the bearer tokens of the HTTP API.
package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	apperrors "github.com/hrygo/dayflow/internal/errors"
)

// Issuer is the iss claim of every token minted here.
const Issuer = "dayflow"

// Claims are the claims carried by an access token.
type Claims struct {
	UserID int32 `json:"uid"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 access token for userID valid for ttl.
func GenerateToken(secret string, userID int32, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   strconv.Itoa(int(userID)),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return signed, nil
}

// ParseToken verifies token and returns its claims. Every failure is an
// Unauthenticated error. A token whose signature verifies but which has
// expired also returns its claims, so callers can tell whose session ended;
// any other failure returns nil claims.
func ParseToken(secret, token string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.Unauthenticated("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		// Claims are validated only after the signature verified.
		if errors.Is(err, jwt.ErrTokenExpired) {
			expiredErr := apperrors.Wrap(err, apperrors.ErrCodeUnauthenticated, "access token expired")
			if claims.Issuer == Issuer && claims.UserID > 0 && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
				return claims, expiredErr
			}
			return nil, expiredErr
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnauthenticated, "invalid access token")
	}
	if !parsed.Valid || claims.UserID <= 0 {
		return nil, apperrors.Unauthenticated("invalid access token")
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

type userIDKey struct{}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID int32) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (int32, bool) {
	id, ok := ctx.Value(userIDKey{}).(int32)
	return id, ok
}
