package api

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignedToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTValidator_ValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewJWTValidatorFromKey(&key.PublicKey)

	token := newSignedToken(t, key, jwt.MapClaims{
		"user": "alice",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	user, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestJWTValidator_ExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewJWTValidatorFromKey(&key.PublicKey)

	token := newSignedToken(t, key, jwt.MapClaims{
		"user": "alice",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestJWTValidator_MissingUserClaim(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewJWTValidatorFromKey(&key.PublicKey)

	token := newSignedToken(t, key, jwt.MapClaims{
		"acct": "1234567890",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func TestJWTValidator_RejectsHMACToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewJWTValidatorFromKey(&key.PublicKey)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user": "alice"})
	signed, err := hmac.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.Error(t, err)
}

func TestJWTValidator_WrongKey(t *testing.T) {
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewJWTValidatorFromKey(&otherKey.PublicKey)

	token := newSignedToken(t, signingKey, jwt.MapClaims{
		"user": "alice",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Validate(token)
	assert.Error(t, err)
}

func authProbe(validator TokenValidator, header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/probe", AuthMiddleware(validator), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": currentUser(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	rec := authProbe(&staticAuth{user: "alice"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	rec := authProbe(&staticAuth{user: "alice"}, "Basic abc123")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	rec := authProbe(&staticAuth{}, "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_SetsUser(t *testing.T) {
	rec := authProbe(&staticAuth{user: "alice"}, "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
}
