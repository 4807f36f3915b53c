package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/service"
)

// SecretRequest carries a user-level secret value
type SecretRequest struct {
	Value string `json:"value" binding:"required,min=8,max=255"`
}

// PutSecretHandler stores the named secret in the user's vault, replacing
// any previous value. The value is never echoed back.
func PutSecretHandler(dbConn *gorm.DB, vault *service.SecretBox, name string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req SecretRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid secret",
				"details": err.Error(),
			})
			return
		}

		if err := service.SetUserSecret(dbConn, vault, user.UserID, name, strings.TrimSpace(req.Value)); err != nil {
			log.Error("failed to store secret", "user_id", user.UserID, "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store secret"})
			return
		}

		log.Info("secret stored", "user_id", user.UserID, "name", name)
		c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
	}
}
