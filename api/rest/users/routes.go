package users

import (
	"github.com/gin-gonic/gin"

	domain "codeberg.org/grimoire/server/grimoire/users"
	"codeberg.org/grimoire/server/internal/auth"
)

func RegisterRoutes(router *gin.RouterGroup, userRepo *domain.Repository) {
	usersGroup := router.Group("/users")
	usersGroup.Use(auth.AuthMiddleware())
	{
		usersGroup.GET("/me", GetMeHandler(userRepo))
		usersGroup.PUT("/me", UpdateProfileHandler(userRepo))
	}
}
