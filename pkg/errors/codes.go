package errors

import "google.golang.org/grpc/codes"

// Common errors (service 00).
var (
	// ErrInternal is the fallback for unclassified failures.
	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), 500, codes.Internal, "Internal server error", "内部服务器错误"))

	// ErrDatabase indicates a relational store failure.
	ErrDatabase = Register(New(MakeCode(ServiceCommon, CategoryDatabase, 1), 500, codes.Internal, "Database error", "数据库错误"))

	// ErrCache indicates a cache backend failure.
	ErrCache = Register(New(MakeCode(ServiceCommon, CategoryCache, 1), 500, codes.Internal, "Cache error", "缓存错误"))
)

// Chatbase errors (service 30).
var (
	// 请求参数错误 (类别 01)
	ErrValidation   = Register(New(MakeCode(ServiceChatbase, CategoryRequest, 1), 400, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))
	ErrEmptyMessage = Register(New(MakeCode(ServiceChatbase, CategoryRequest, 2), 400, codes.InvalidArgument, "Message list is empty or last message is not from user", "消息列表为空或最后一条消息不是用户消息"))

	// 文档提取错误 (类别 01 / 07)
	ErrUnsupportedFormat = Register(New(MakeCode(ServiceChatbase, CategoryRequest, 3), 400, codes.InvalidArgument, "Unsupported document format", "不支持的文档格式"))
	ErrEmptyContent      = Register(New(MakeCode(ServiceChatbase, CategoryRequest, 4), 400, codes.InvalidArgument, "Extracted content is empty", "提取的内容为空"))
	ErrExtraction        = Register(New(MakeCode(ServiceChatbase, CategoryInternal, 1), 500, codes.Internal, "Document extraction failed", "文档内容提取失败"))

	// 资源错误 (类别 04)
	ErrNotFound             = Register(New(MakeCode(ServiceChatbase, CategoryResource, 1), 404, codes.NotFound, "Resource not found or access denied", "资源不存在或无权访问"))
	ErrDocumentNotFound     = Register(New(MakeCode(ServiceChatbase, CategoryResource, 2), 404, codes.NotFound, "Document not found", "文档不存在"))
	ErrConversationNotFound = Register(New(MakeCode(ServiceChatbase, CategoryResource, 3), 404, codes.NotFound, "Conversation not found", "会话不存在"))
	ErrKnowledgeBaseNotFound = Register(New(MakeCode(ServiceChatbase, CategoryResource, 4), 404, codes.NotFound, "Knowledge base not found", "知识库不存在"))

	// 冲突错误 (类别 05)
	ErrConflict             = Register(New(MakeCode(ServiceChatbase, CategoryConflict, 1), 409, codes.Aborted, "Document is already being processed", "文档正在处理中"))
	ErrDuplicateAssociation = Register(New(MakeCode(ServiceChatbase, CategoryConflict, 2), 409, codes.AlreadyExists, "Document is already in the knowledge base", "文档已在知识库中"))
	ErrDocumentNotReady     = Register(New(MakeCode(ServiceChatbase, CategoryConflict, 3), 409, codes.FailedPrecondition, "Document processing is not completed", "文档尚未处理完成"))

	// 外部依赖错误 (类别 10 / 11)
	ErrRetrievalUnavailable = Register(New(MakeCode(ServiceChatbase, CategoryNetwork, 1), 503, codes.Unavailable, "Vector store or embedding service unavailable", "向量存储或嵌入服务不可用"))
	ErrModelUnavailable     = Register(New(MakeCode(ServiceChatbase, CategoryNetwork, 2), 503, codes.Unavailable, "Language model call failed", "语言模型调用失败"))
	ErrChatTimeout          = Register(New(MakeCode(ServiceChatbase, CategoryTimeout, 1), 408, codes.DeadlineExceeded, "Chat turn timed out", "对话处理超时"))
)
