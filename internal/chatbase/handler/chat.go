package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/chatbase/internal/chatbase/biz"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/httputils"
	"github.com/kart-io/chatbase/pkg/utils/json"
)

// ChatHandler 处理对话请求。
type ChatHandler struct {
	chat biz.ChatService
}

// NewChatHandler 创建对话处理器。
func NewChatHandler(chat biz.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// ChatRequest 对话请求体。
type ChatRequest struct {
	ConversationID  string  `json:"conversation_id"`
	Message         string  `json:"message" binding:"required"`
	KnowledgeBaseID string  `json:"knowledge_base_id"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	Stream          bool    `json:"stream"`
}

// Chat 执行一轮对话。stream 为 true 时以 SSE 返回增量事件，
// 终止事件携带 done=true，之后不再有事件。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithCause(err), nil)
		return
	}

	turn := &biz.ChatTurnRequest{
		ConversationID:  req.ConversationID,
		Message:         req.Message,
		KnowledgeBaseID: req.KnowledgeBaseID,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
	}

	if !req.Stream {
		result, err := h.chat.Chat(c.Request.Context(), ownerID(c), turn)
		httputils.WriteResponse(c, err, result)
		return
	}

	events, err := h.chat.ChatStream(c.Request.Context(), ownerID(c), turn)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range events {
		payload, err := json.MarshalString(ev)
		if err != nil {
			continue
		}
		c.SSEvent("message", payload)
		c.Writer.Flush()
		if ev.Done {
			break
		}
	}
}

// AnalyzeSentiment 分析指定会话的整体情感。
func (h *ChatHandler) AnalyzeSentiment(c *gin.Context) {
	result, err := h.chat.AnalyzeSentiment(c.Request.Context(), ownerID(c), c.Param("id"))
	httputils.WriteResponse(c, err, result)
}
