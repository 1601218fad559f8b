package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService services.IUserService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService) *RestUserHandler {
	return &RestUserHandler{userService: userService}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Role       models.Role `json:"role"`
	DateJoined string      `json:"date_joined"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	user, err := h.userService.FindUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		}
		return
	}

	c.JSON(http.StatusOK, PublicUser{
		ID:         user.ID,
		Name:       user.Name,
		Role:       user.Role,
		DateJoined: user.CreatedAt.Format("2006-01-02"),
	})
}
