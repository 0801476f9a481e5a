package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/service"
)

// UserHandler handles account endpoints.
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// UpdateRoleRequest represents the role update API request.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Profile handles GET /api/v1/users/profile.
func (h *UserHandler) Profile(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), principal.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Profile retrieved successfully", user)
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(c *gin.Context) {
	page, limit := pageParams(c)
	res, err := h.users.List(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Users retrieved successfully", res)
}

// Get handles GET /api/v1/users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "User retrieved successfully", user)
}

// UpdateRole handles PATCH /api/v1/users/:id/role.
func (h *UserHandler) UpdateRole(c *gin.Context) {
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	user, err := h.users.UpdateRole(c.Request.Context(), c.Param("id"), domain.Role(req.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "User role updated successfully", user)
}
