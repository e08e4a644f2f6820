package lists

import (
	"fmt"
	"net/http"

	"github.com/chirino/ulists/internal/collab"
	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
)

// addCollaboratorRequest accepts the handle as typed by a user ("4321") or as
// a JSON number.
type addCollaboratorRequest struct {
	Handle any `json:"handle"`
}

func listCollaborators(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	grants, err := store.ListGrants(c.Request.Context(), security.GetUserID(c), listID)
	if err != nil {
		handleError(c, err)
		return
	}
	if grants == nil {
		grants = []model.ListCollaborator{}
	}
	c.JSON(http.StatusOK, gin.H{"data": grants})
}

func addCollaborator(c *gin.Context, linker *collab.Linker) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	var req addCollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	var text string
	switch v := req.Handle.(type) {
	case nil:
	case string:
		text = v
	default:
		text = fmt.Sprint(v)
	}
	grant, err := linker.AddCollaborator(c.Request.Context(), security.GetUserID(c), listID, text)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func removeCollaborator(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	if err := store.RemoveGrant(c.Request.Context(), security.GetUserID(c), listID, c.Param("userId")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
