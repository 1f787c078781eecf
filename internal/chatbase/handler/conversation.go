package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/chatbase/internal/chatbase/biz"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/httputils"
)

// ConversationHandler 处理会话相关请求。
type ConversationHandler struct {
	conversations biz.ConversationService
}

// NewConversationHandler 创建会话处理器。
func NewConversationHandler(conversations biz.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// ConversationRequest 创建/更新会话的请求体。
type ConversationRequest struct {
	Title    string         `json:"title"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

// Create 创建会话。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	conv, err := h.conversations.Create(c.Request.Context(), ownerID(c), req.Title, req.Metadata)
	httputils.WriteResponse(c, err, conv)
}

// Get 获取会话。
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, conv)
}

// List 分页列出会话。
func (h *ConversationHandler) List(c *gin.Context) {
	offset, limit := pagination(c)
	convs, total, err := h.conversations.List(c.Request.Context(), ownerID(c), offset, limit)
	httputils.WriteList(c, err, total, convs)
}

// Update 更新会话标题或状态。
func (h *ConversationHandler) Update(c *gin.Context) {
	var req ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	conv, err := h.conversations.Update(c.Request.Context(), ownerID(c), c.Param("id"), req.Title, req.Status)
	httputils.WriteResponse(c, err, conv)
}

// Delete 软删除会话。
func (h *ConversationHandler) Delete(c *gin.Context) {
	err := h.conversations.Delete(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, nil)
}

// Messages 按时间顺序分页列出会话消息。
func (h *ConversationHandler) Messages(c *gin.Context) {
	offset, limit := pagination(c)
	msgs, total, err := h.conversations.Messages(c.Request.Context(), ownerID(c), c.Param("id"), offset, limit)
	httputils.WriteList(c, err, total, msgs)
}
