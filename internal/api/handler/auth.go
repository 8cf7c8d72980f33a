package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"

	"pairchat/backend/internal/apperr"
)

const userIDKey = "anon_id"

// Authenticator issues and verifies anonymous identity tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

type anonClaims struct {
	AnonID string `json:"anon_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for anonID.
func (a *Authenticator) IssueToken(anonID string) (string, error) {
	now := a.now()
	claims := anonClaims{
		AnonID: anonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken verifies the token and returns the anonymous id it carries.
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	var claims anonClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if claims.AnonID == "" {
		return "", errors.New("token has no anon_id")
	}
	return claims.AnonID, nil
}

// GetAnonID creates an anonymous id and returns a token for it.
func (h *Handler) GetAnonID(c *gin.Context) {
	anonUUID, err := uuid.NewRandom()
	if err != nil {
		h.renderError(c, apperr.Wrap(apperr.Internal, "failed to create id", err))
		return
	}
	anonID := anonUUID.String()

	token, err := h.Auth.IssueToken(anonID)
	if err != nil {
		h.renderError(c, apperr.Wrap(apperr.Internal, "failed to create token", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// RequireAuth resolves the caller from the bearer token. WebSocket clients
// that cannot set headers may pass the token in the "token" query parameter.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			h.renderError(c, apperr.New(apperr.Unauthorized, "authorization token missing"))
			return
		}

		anonID, err := h.Auth.ParseToken(tokenString)
		if err != nil {
			h.renderError(c, apperr.Wrap(apperr.Unauthorized, "invalid or expired token", err))
			return
		}
		c.Set(userIDKey, anonID)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
