// Package router 注册 chatbase 的 HTTP 路由。
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/chatbase/internal/chatbase/handler"
	"github.com/kart-io/chatbase/internal/chatbase/metrics"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/httputils"
)

// Handlers 汇集各业务处理器。
type Handlers struct {
	Documents      *handler.DocumentHandler
	KnowledgeBases *handler.KnowledgeBaseHandler
	Conversations  *handler.ConversationHandler
	Chat           *handler.ChatHandler
}

// Register 注册全部路由。
func Register(engine *gin.Engine, h *Handlers) {
	logger.Info("注册 HTTP 路由")

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, metrics.Get().Export("chatbase", ""))
	})

	v1 := engine.Group("/v1", ownerAuth())
	{
		docs := v1.Group("/documents")
		{
			docs.POST("", h.Documents.Upload)
			docs.GET("", h.Documents.List)
			docs.GET("/:id", h.Documents.Get)
			docs.DELETE("/:id", h.Documents.Delete)
			docs.POST("/:id/process", h.Documents.Process)
			docs.POST("/search", h.Documents.Search)
		}

		kbs := v1.Group("/knowledge-bases")
		{
			kbs.POST("", h.KnowledgeBases.Create)
			kbs.GET("", h.KnowledgeBases.List)
			kbs.GET("/:id", h.KnowledgeBases.Get)
			kbs.PUT("/:id", h.KnowledgeBases.Update)
			kbs.DELETE("/:id", h.KnowledgeBases.Delete)
			kbs.POST("/:id/documents", h.KnowledgeBases.AddDocument)
			kbs.DELETE("/:id/documents/:doc_id", h.KnowledgeBases.RemoveDocument)
			kbs.POST("/:id/search", h.KnowledgeBases.Search)
			kbs.GET("/:id/stats", h.KnowledgeBases.Stats)
		}

		convs := v1.Group("/conversations")
		{
			convs.POST("", h.Conversations.Create)
			convs.GET("", h.Conversations.List)
			convs.GET("/:id", h.Conversations.Get)
			convs.PUT("/:id", h.Conversations.Update)
			convs.DELETE("/:id", h.Conversations.Delete)
			convs.GET("/:id/messages", h.Conversations.Messages)
			convs.POST("/:id/analysis", h.Chat.AnalyzeSentiment)
		}

		v1.POST("/chat", h.Chat.Chat)
	}
}

// ownerAuth 从 X-User-ID 头解析请求属主并写入上下文。
func ownerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader("X-User-ID")
		if owner == "" {
			httputils.WriteResponse(c, errors.ErrValidation.WithMessage("missing X-User-ID header"), nil)
			c.Abort()
			return
		}
		c.Set(handler.OwnerKey, owner)
		c.Next()
	}
}
