package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/repository"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// DocumentHandler exposes owner-scoped CRUD for one collection.
type DocumentHandler struct {
	repo *repository.Repository
}

func NewDocumentHandler(repo *repository.Repository) *DocumentHandler {
	return &DocumentHandler{repo: repo}
}

type batchRequest struct {
	Operations []repository.BatchOp `json:"operations"`
}

// List handles GET /api/{collection}
func (h *DocumentHandler) List(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	filters, ok := queryFilters(c)
	if !ok {
		return
	}

	docs, err := h.repo.FindAll(requestContext(c), owner, filters...)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := &response.Meta{Total: len(docs)}
	if limit := limitOf(filters); limit > 0 && len(docs) == limit {
		if field := sortFieldOf(filters); field != "" {
			meta.NextCursor, _ = docs[len(docs)-1].Lookup(field)
		}
	}
	response.SuccessWithMeta(c, http.StatusOK, docs, meta)
}

// Create handles POST /api/{collection}
func (h *DocumentHandler) Create(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	payload, ok := bindDocument(c)
	if !ok {
		return
	}

	doc, err := h.repo.Create(requestContext(c), owner, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, doc)
}

// Get handles GET /api/{collection}/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	doc, err := h.repo.Read(requestContext(c), c.Param("id"), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	if doc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, doc)
}

// Update handles PATCH /api/{collection}/:id
func (h *DocumentHandler) Update(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	payload, ok := bindDocument(c)
	if !ok {
		return
	}

	doc, err := h.repo.Update(requestContext(c), c.Param("id"), payload, owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, doc)
}

// Delete handles DELETE /api/{collection}/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	if err := h.repo.Delete(requestContext(c), c.Param("id"), owner); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Batch handles POST /api/{collection}/batch
func (h *DocumentHandler) Batch(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return
	}
	if len(req.Operations) == 0 {
		response.Error(c, apperrors.NewBadRequest("operations are required"))
		return
	}

	if err := h.repo.Batch(requestContext(c), owner, req.Operations); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"applied": len(req.Operations)})
}
