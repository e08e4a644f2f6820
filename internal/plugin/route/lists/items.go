package lists

import (
	"net/http"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/chirino/ulists/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createItemRequest struct {
	// ID is optional. Clients send the id of their optimistic row so the
	// change stream echo can be matched against it.
	ID   *uuid.UUID `json:"id"`
	Name string     `json:"name" binding:"required"`
}

func listItems(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	items, err := store.ListItems(c.Request.Context(), security.GetUserID(c), listID)
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []model.ListItem{}
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func createItem(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	item := registrystore.NewItem{Name: req.Name}
	if req.ID != nil {
		item.ID = *req.ID
	}
	created, err := store.CreateItem(c.Request.Context(), security.GetUserID(c), listID, item)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func updateItem(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	itemID, ok := itemParam(c)
	if !ok {
		return
	}
	var update model.ItemUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if update.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "name or completed is required"})
		return
	}
	item, err := store.UpdateItem(c.Request.Context(), security.GetUserID(c), listID, itemID, update)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func deleteItem(c *gin.Context, store registrystore.ListStore) {
	listID, ok := listParam(c)
	if !ok {
		return
	}
	itemID, ok := itemParam(c)
	if !ok {
		return
	}
	if err := store.DeleteItem(c.Request.Context(), security.GetUserID(c), listID, itemID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func itemParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "item not found"})
		return uuid.Nil, false
	}
	return id, true
}
