// Package profile mounts the caller's profile route.
package profile

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/identity"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
)

type profileResponse struct {
	AccountID string        `json:"accountId"`
	Handle    *model.Handle `json:"handle"`
}

// MountRoutes mounts GET /v1/profile.
func MountRoutes(r *gin.Engine, registry *identity.Registry, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.GET("/profile", func(c *gin.Context) {
		getProfile(c, registry)
	})
}

// getProfile ensures the caller has a handle. When none can be assigned the
// profile is still returned, without a handle, so the dashboard keeps working.
func getProfile(c *gin.Context, registry *identity.Registry) {
	userID := security.GetUserID(c)
	resp := profileResponse{AccountID: userID}

	handle, err := registry.EnsureHandle(c.Request.Context(), userID)
	var regErr *identity.RegistryError
	switch {
	case err == nil:
		resp.Handle = &handle
	case errors.As(err, &regErr):
		log.Warn("Serving profile without a handle", "accountId", userID, "attempts", regErr.Attempts, "err", regErr.Err)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
