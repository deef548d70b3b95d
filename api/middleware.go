package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	authorizationHeaderKey  = "authorization"
	authorizationTypeBearer = "bearer"
)

var (
	errMissingAPIKey = errors.New("missing API key: send Authorization: Bearer <key>")
	errInvalidAPIKey = errors.New("API key does not match the configured API_KEY_HASH")
)

// authentication admits requests carrying the single service API key. The
// service stores only its bcrypt hash, so any non-bearer scheme is rejected
// before the comparison.
func (server *Server) authentication(c *gin.Context) {
	scheme, key, ok := strings.Cut(strings.TrimSpace(c.GetHeader(authorizationHeaderKey)), " ")
	if !ok || !strings.EqualFold(scheme, authorizationTypeBearer) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errMissingAPIKey))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(server.apiKeyHash), []byte(strings.TrimSpace(key))); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errInvalidAPIKey))
		return
	}
	c.Next()
}
