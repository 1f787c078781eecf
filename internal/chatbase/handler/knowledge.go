package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/chatbase/internal/chatbase/biz"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/httputils"
)

// KnowledgeBaseHandler 处理知识库相关请求。
type KnowledgeBaseHandler struct {
	knowledge biz.KnowledgeBaseService
}

// NewKnowledgeBaseHandler 创建知识库处理器。
func NewKnowledgeBaseHandler(knowledge biz.KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{knowledge: knowledge}
}

// KnowledgeBaseRequest 创建/更新知识库的请求体。
type KnowledgeBaseRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Visibility  string         `json:"visibility"`
	Metadata    map[string]any `json:"metadata"`
}

func (r *KnowledgeBaseRequest) toBiz() *biz.KnowledgeBaseRequest {
	return &biz.KnowledgeBaseRequest{
		Name:        r.Name,
		Description: r.Description,
		Visibility:  r.Visibility,
		Metadata:    r.Metadata,
	}
}

// Create 创建知识库。
func (h *KnowledgeBaseHandler) Create(c *gin.Context) {
	var req KnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	kb, err := h.knowledge.Create(c.Request.Context(), ownerID(c), req.toBiz())
	httputils.WriteResponse(c, err, kb)
}

// Get 获取知识库。
func (h *KnowledgeBaseHandler) Get(c *gin.Context) {
	kb, err := h.knowledge.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, kb)
}

// List 列出可见的知识库。
func (h *KnowledgeBaseHandler) List(c *gin.Context) {
	offset, limit := pagination(c)
	kbs, total, err := h.knowledge.List(c.Request.Context(), ownerID(c), offset, limit)
	httputils.WriteList(c, err, total, kbs)
}

// Update 更新知识库。
func (h *KnowledgeBaseHandler) Update(c *gin.Context) {
	var req KnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	kb, err := h.knowledge.Update(c.Request.Context(), ownerID(c), c.Param("id"), req.toBiz())
	httputils.WriteResponse(c, err, kb)
}

// Delete 删除知识库。
func (h *KnowledgeBaseHandler) Delete(c *gin.Context) {
	err := h.knowledge.Delete(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, nil)
}

// AddDocumentRequest 文档入库请求体。
type AddDocumentRequest struct {
	DocumentID string         `json:"document_id" binding:"required"`
	Metadata   map[string]any `json:"metadata"`
}

// AddDocument 将文档加入知识库。
func (h *KnowledgeBaseHandler) AddDocument(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	err := h.knowledge.AddDocument(c.Request.Context(), ownerID(c), c.Param("id"), req.DocumentID, req.Metadata)
	httputils.WriteResponse(c, err, nil)
}

// RemoveDocument 将文档移出知识库。
func (h *KnowledgeBaseHandler) RemoveDocument(c *gin.Context) {
	err := h.knowledge.RemoveDocument(c.Request.Context(), ownerID(c), c.Param("id"), c.Param("doc_id"))
	httputils.WriteResponse(c, err, nil)
}

// Search 在知识库范围内检索。
func (h *KnowledgeBaseHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	results, err := h.knowledge.Search(c.Request.Context(), ownerID(c), c.Param("id"), &biz.SearchRequest{
		Query:    req.Query,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	})
	httputils.WriteResponse(c, err, results)
}

// Stats 返回知识库统计。
func (h *KnowledgeBaseHandler) Stats(c *gin.Context) {
	stats, err := h.knowledge.Stats(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, stats)
}
