// Package lists mounts the shopping list, item and collaborator routes.
package lists

import (
	"errors"
	"net/http"

	"github.com/chirino/ulists/internal/collab"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type titleRequest struct {
	Title string `json:"title" binding:"required"`
}

// MountRoutes mounts list, item and collaborator routes.
func MountRoutes(r *gin.Engine, store registrystore.ListStore, linker *collab.Linker, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/lists", func(c *gin.Context) {
		listLists(c, store)
	})
	g.POST("/lists", func(c *gin.Context) {
		createList(c, store)
	})
	g.GET("/lists/:listId", func(c *gin.Context) {
		getList(c, store)
	})
	g.PATCH("/lists/:listId", func(c *gin.Context) {
		renameList(c, store)
	})
	g.DELETE("/lists/:listId", func(c *gin.Context) {
		deleteList(c, store)
	})

	g.GET("/lists/:listId/items", func(c *gin.Context) {
		listItems(c, store)
	})
	g.POST("/lists/:listId/items", func(c *gin.Context) {
		createItem(c, store)
	})
	g.PATCH("/lists/:listId/items/:itemId", func(c *gin.Context) {
		updateItem(c, store)
	})
	g.DELETE("/lists/:listId/items/:itemId", func(c *gin.Context) {
		deleteItem(c, store)
	})

	g.GET("/lists/:listId/collaborators", func(c *gin.Context) {
		listCollaborators(c, store)
	})
	g.POST("/lists/:listId/collaborators", func(c *gin.Context) {
		addCollaborator(c, linker)
	})
	g.DELETE("/lists/:listId/collaborators/:userId", func(c *gin.Context) {
		removeCollaborator(c, store)
	})
}

func listLists(c *gin.Context, store registrystore.ListStore) {
	lists, err := store.ListLists(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lists})
}

func createList(c *gin.Context, store registrystore.ListStore) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	list, err := store.CreateList(c.Request.Context(), security.GetUserID(c), req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, list)
}

func getList(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	list, err := store.GetList(c.Request.Context(), security.GetUserID(c), listID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func renameList(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	list, err := store.RenameList(c.Request.Context(), security.GetUserID(c), listID, req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func deleteList(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	if err := store.DeleteList(c.Request.Context(), security.GetUserID(c), listID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listParam parses :listId. Malformed ids are reported as missing lists.
func listParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("listId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "list not found"})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var duplicate *registrystore.DuplicateGrantError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, gin.H{"code": "duplicate_grant", "error": err.Error()})
	case errors.As(err, &conflict):
		code := conflict.Code
		if code == "" {
			code = "conflict"
		}
		c.JSON(http.StatusConflict, gin.H{"code": code, "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
	}
}
