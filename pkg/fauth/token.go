package fauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flockml/flock/pkg/ferr"
)

// TokenTypeBearer is the only token type issued by the coordinator.
const TokenTypeBearer = "bearer"

// DefaultTTL is the session token lifetime. Expiry lives in the signed
// payload; there is no server-side revocation.
const DefaultTTL = 7 * 24 * time.Hour

// Claims is the payload of a session token. ShouldChangePassword is an
// advisory flag for the UI, set while the account still carries the
// bootstrap placeholder password.
type Claims struct {
	UUID                 string `json:"uuid"`
	Username             string `json:"username"`
	ShouldChangePassword bool   `json:"should_change_password"`
	jwt.RegisteredClaims
}

// Issue signs claims with the user's key. A zero ttl falls back to
// DefaultTTL. IssuedAt/ExpiresAt are stamped here.
func Issue(claims *Claims, signingKey []byte, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// Decode verifies signature and expiry and returns the claims. Every
// failure mode collapses to the same invalid_token error so callers leak no
// signal about whether a token was expired or forged.
func Decode(tokenString string, signingKey []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return nil, errInvalidToken()
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken()
	}
	return claims, nil
}

// UnverifiedUsername extracts the username claim without checking the
// signature. The coordinator needs it to look up the per-user signing key
// before it can verify anything; never trust the result on its own.
func UnverifiedUsername(tokenString string) (string, error) {
	var claims Claims
	parser := new(jwt.Parser)
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return "", errInvalidToken()
	}
	if claims.Username == "" {
		return "", errInvalidToken()
	}
	return claims.Username, nil
}

func errInvalidToken() error {
	return ferr.Newf(ferr.CodeInvalidToken, "could not validate credentials")
}
