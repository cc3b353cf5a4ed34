package users

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "codeberg.org/grimoire/server/grimoire/users"
	"codeberg.org/grimoire/server/internal/auth"
	"codeberg.org/grimoire/server/internal/errors"
)

// GetMeHandler returns the authenticated user's profile, creating the
// local record from the token claims on first sight
func GetMeHandler(userRepo *domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		user, err := userRepo.UpsertFromToken(c.Request.Context(), userID, auth.GetDisplayName(c))
		if err != nil {
			errors.InternalError(c, "failed to load profile", err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

// UpdateProfileHandler updates the authenticated user's display name and avatar
func UpdateProfileHandler(userRepo *domain.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "not authenticated")
			return
		}

		var req domain.UpdateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.ValidationError(c, err)
			return
		}

		req.DisplayName = strings.TrimSpace(req.DisplayName)
		if req.DisplayName == "" {
			errors.BadRequest(c, "display name is required", nil)
			return
		}

		user, err := userRepo.UpdateProfile(c.Request.Context(), userID, req.DisplayName, req.AvatarURL)
		if err != nil {
			errors.InternalError(c, "failed to update profile", err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}
