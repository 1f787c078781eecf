// Package handler 提供 chatbase 的 HTTP 处理器。
package handler

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/chatbase/internal/chatbase/biz"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/httputils"
)

// OwnerKey 是 gin 上下文中属主 ID 的键，由认证中间件写入。
const OwnerKey = "owner_id"

// ownerID 读取请求属主。
func ownerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}

// pagination 解析 offset/limit 查询参数。
func pagination(c *gin.Context) (int, int) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return offset, limit
}

// DocumentHandler 处理文档相关请求。
type DocumentHandler struct {
	documents biz.DocumentService
	retriever *biz.Retriever
}

// NewDocumentHandler 创建文档处理器。
func NewDocumentHandler(documents biz.DocumentService, retriever *biz.Retriever) *DocumentHandler {
	return &DocumentHandler{documents: documents, retriever: retriever}
}

// Upload 上传文档（multipart 表单：file 必填，title/metadata 可选）。
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithMessage("missing file field"), nil)
		return
	}

	f, err := file.Open()
	if err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	req := &biz.UploadRequest{
		Title:    c.PostForm("title"),
		Filename: file.Filename,
		Data:     data,
	}
	if meta := c.PostForm("metadata"); meta != "" {
		req.Metadata = map[string]any{"note": meta}
	}

	doc, err := h.documents.Upload(c.Request.Context(), ownerID(c), req)
	httputils.WriteResponse(c, err, doc)
}

// ProcessRequest 触发文档处理的请求体。
type ProcessRequest struct {
	ChunkSize    int            `json:"chunk_size"`
	ChunkOverlap int            `json:"chunk_overlap"`
	Metadata     map[string]any `json:"metadata"`
}

// Process 触发文档处理流水线。
func (h *DocumentHandler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	result, err := h.documents.Process(c.Request.Context(), ownerID(c), c.Param("id"), &biz.ProcessOptions{
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Metadata:     req.Metadata,
	})
	httputils.WriteResponse(c, err, result)
}

// Get 获取单个文档。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, doc)
}

// List 分页列出文档。
func (h *DocumentHandler) List(c *gin.Context) {
	offset, limit := pagination(c)
	docs, total, err := h.documents.List(c.Request.Context(), ownerID(c), offset, limit)
	httputils.WriteList(c, err, total, docs)
}

// Delete 删除文档及其向量片段。
func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.documents.Delete(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, nil)
}

// SearchRequest 文档检索请求体。
type SearchRequest struct {
	Query    string  `json:"query" binding:"required"`
	Limit    int     `json:"limit"`
	MinScore float32 `json:"min_score"`
}

// Search 在属主的全部文档中检索片段。
func (h *DocumentHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	results, err := h.retriever.Search(c.Request.Context(), ownerID(c), &biz.SearchRequest{
		Query:    req.Query,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	})
	httputils.WriteResponse(c, err, results)
}
