package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/eludris/eludris/internal/apierror"
)

// TokenClaims are the sole claims inside a session token. There is no
// expiry; revocation happens by deleting the session row.
type TokenClaims struct {
	UserID    uint64 `json:"user_id"`
	SessionID uint64 `json:"session_id"`
	jwt.RegisteredClaims
}

// SignToken signs session claims with the instance secret.
func SignToken(secret []byte, userID, sessionID uint64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:    userID,
		SessionID: sessionID,
	})
	return token.SignedString(secret)
}

// ParseToken verifies a session token's signature and returns its claims.
// Any tampering or malformed input yields UNAUTHORIZED.
func ParseToken(secret []byte, token string) (TokenClaims, error) {
	var claims TokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return TokenClaims{}, apierror.Unauthorized()
	}
	return claims, nil
}
