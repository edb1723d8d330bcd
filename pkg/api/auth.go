package api

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// userIDKey is the gin context key the middleware stores the caller under.
const userIDKey = "user_id"

// TokenValidator is the auth collaborator: token in, user id out.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// JWTValidator validates RS256 bearer tokens against a public key. The
// username travels in the "user" claim.
type JWTValidator struct {
	publicKey *rsa.PublicKey
}

// NewJWTValidator loads the PEM public key at path.
func NewJWTValidator(path string) (*JWTValidator, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}
	return &JWTValidator{publicKey: key}, nil
}

// NewJWTValidatorFromKey wraps an already-parsed key, for tests.
func NewJWTValidatorFromKey(key *rsa.PublicKey) *JWTValidator {
	return &JWTValidator{publicKey: key}
}

// Validate parses and verifies the token, returning the user claim.
func (v *JWTValidator) Validate(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	user, ok := claims["user"].(string)
	if !ok || user == "" {
		return "", fmt.Errorf("token missing user claim")
	}
	return user, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the authenticated user id on the context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := validator.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// currentUser returns the authenticated user id set by the middleware.
func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
