package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/store"
)

type contextKey string

const (
	apiKeyHeader                 = "X-API-Key"
	projectContextKey contextKey = "project"
)

// APIKeyAuth resolves the calling project from the X-API-Key header.
// Keys are never stored or compared in the clear; the lookup key is the
// hex SHA-256 digest.
func APIKeyAuth(projects store.ProjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		project, err := projects.GetByAPIKeyHash(c.Request.Context(), HashAPIKey(key))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate API key"})
			return
		}

		ctx := context.WithValue(c.Request.Context(), projectContextKey, project)
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			ProjectID: logger.Ptr(project.ID.String()),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetProject returns the authenticated project, or nil outside an
// authenticated request.
func GetProject(ctx context.Context) *model.Project {
	project, _ := ctx.Value(projectContextKey).(*model.Project)
	return project
}

// HashAPIKey produces the digest under which API keys are stored.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
