package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/chatbase/internal/chatbase/metrics"
	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/cache"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/llm"
	"github.com/kart-io/chatbase/pkg/utils/id"
	"github.com/kart-io/chatbase/pkg/utils/json"
)

// 对话编排默认参数。
const (
	// DefaultHistoryWindow 每轮对话加载的历史消息条数。
	DefaultHistoryWindow = 10

	// DefaultChatTimeout 单轮对话的超时时间。
	DefaultChatTimeout = 60 * time.Second

	// contextCacheTTL 检索上下文块的缓存有效期。
	contextCacheTTL = time.Hour

	// maxFunctionResults 函数调用检索的结果数上限。
	maxFunctionResults = 5

	// contextSearchLimit 系统提示词上下文块的检索结果数。
	contextSearchLimit = 3

	// contextSnippetRunes 上下文块中单个片段的截断长度。
	contextSnippetRunes = 500

	// persistTimeout 客户端断开后服务端落库的兜底超时。
	persistTimeout = 10 * time.Second
)

// 模型可调用的检索函数名。
const (
	fnSearchDocuments     = "search_documents"
	fnSearchKnowledgeBase = "search_knowledge_base"
)

// basePersona 系统提示词的基础人设部分。
const basePersona = `You are a helpful assistant that answers questions based on the user's documents. ` +
	`When relevant context is provided, ground your answers in it and say so when the context does not ` +
	`contain the answer. Keep answers concise.`

// 流式处理状态机。一次流式轮次从 stateStreamingContent 开始，
// 模型中途发起函数调用时经 buffering → executing 进入 followup，
// 最终停在 stateDone；终止事件之后不会再有事件。
type streamState int

const (
	stateStreamingContent streamState = iota
	stateBufferingFunctionCall
	stateExecutingFunction
	stateStreamingFollowup
	stateDone
)

// ChatTurnRequest 一轮对话请求。
type ChatTurnRequest struct {
	// ConversationID 会话 ID，为空时自动创建新会话。
	ConversationID string
	// Message 用户消息。
	Message string
	// KnowledgeBaseID 限定检索范围的知识库，为空时在属主全部文档中检索。
	KnowledgeBaseID string
	Temperature     float64
	MaxTokens       int
}

// ChatTurnResult 一轮对话结果。
type ChatTurnResult struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

// StreamEvent 流式输出事件。Done 为 true 的事件是终止事件。
type StreamEvent struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Delta          string         `json:"delta,omitempty"`
	// FunctionCall 在工具调用暂停时携带被调用的函数名。
	FunctionCall   string         `json:"function_call,omitempty"`
	Done           bool           `json:"done"`
	Error          string         `json:"error,omitempty"`
	Message        *model.Message `json:"message,omitempty"`
}

// ChatService 定义对话编排操作。
type ChatService interface {
	// Chat 执行一轮非流式对话：持久化用户消息、组装上下文、
	// 调用模型（至多一次检索函数往返）、持久化助手消息。
	Chat(ctx context.Context, ownerID string, req *ChatTurnRequest) (*ChatTurnResult, error)

	// ChatStream 执行一轮流式对话。返回的通道在终止事件后关闭。
	// 调用方中途放弃消费不影响助手消息的服务端落库。
	ChatStream(ctx context.Context, ownerID string, req *ChatTurnRequest) (<-chan StreamEvent, error)

	// AnalyzeSentiment 分析会话近期消息的整体情感，结果带缓存。
	AnalyzeSentiment(ctx context.Context, ownerID, conversationID string) (*SentimentAnalysis, error)
}

// chatService 实现 ChatService。
type chatService struct {
	store         store.IStore
	conversations ConversationService
	retriever     *Retriever
	knowledge     KnowledgeBaseService
	provider      llm.ChatProvider
	cache         cache.Cache
	metrics       *metrics.Metrics

	historyWindow int
	timeout       time.Duration

	// locks 保证同一会话的轮次串行执行，消息顺序不被打乱。
	locks sync.Map
}

var _ ChatService = (*chatService)(nil)

// ChatConfig 对话服务配置。零值字段使用默认值。
type ChatConfig struct {
	HistoryWindow int
	Timeout       time.Duration
}

// NewChatService 创建对话服务。responseCache 可为 nil，表示禁用检索上下文缓存。
func NewChatService(
	s store.IStore,
	conversations ConversationService,
	retriever *Retriever,
	knowledge KnowledgeBaseService,
	provider llm.ChatProvider,
	responseCache cache.Cache,
	config *ChatConfig,
) ChatService {
	if config == nil {
		config = &ChatConfig{}
	}
	historyWindow := config.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}

	return &chatService{
		store:         s,
		conversations: conversations,
		retriever:     retriever,
		knowledge:     knowledge,
		provider:      provider,
		cache:         responseCache,
		metrics:       metrics.Get(),
		historyWindow: historyWindow,
		timeout:       timeout,
	}
}

// Chat 执行一轮非流式对话。
func (s *chatService) Chat(ctx context.Context, ownerID string, req *ChatTurnRequest) (*ChatTurnResult, error) {
	turn, err := s.beginTurn(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.invokeModel(ctx, ownerID, req, turn)
	if err != nil {
		s.metrics.RecordChatTurn(false, err)
		return nil, err
	}

	assistant, err := s.persistAssistant(ctx, turn.conversation.ID, resp.Content, resp.Model, resp.Usage)
	if err != nil {
		s.metrics.RecordChatTurn(false, err)
		return nil, err
	}

	s.metrics.RecordChatTurn(false, nil)
	return &ChatTurnResult{
		ConversationID: turn.conversation.ID,
		Message:        assistant,
	}, nil
}

// invokeModel 调用模型，处理至多一次函数调用往返。
func (s *chatService) invokeModel(ctx context.Context, ownerID string, req *ChatTurnRequest, turn *chatTurn) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := s.provider.Chat(ctx, &llm.ChatRequest{
		Messages:    turn.messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Functions:   s.functions(),
	})
	s.recordLLMCall(start, resp, err)
	if err != nil {
		return nil, s.modelError(ctx, err)
	}

	if resp.FunctionCall == nil {
		return resp, nil
	}

	// 函数调用往返：执行检索，把结果作为 function 消息追加，
	// 再次调用时不再声明函数，强制模型给出最终回答。
	result := s.executeFunction(ctx, ownerID, req, resp.FunctionCall)
	turn.messages = append(turn.messages,
		llm.Message{Role: llm.RoleAssistant, FunctionCall: resp.FunctionCall},
		llm.Message{Role: llm.RoleFunction, Name: resp.FunctionCall.Name, Content: result},
	)

	start = time.Now()
	final, err := s.provider.Chat(ctx, &llm.ChatRequest{
		Messages:    turn.messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	s.recordLLMCall(start, final, err)
	if err != nil {
		return nil, s.modelError(ctx, err)
	}
	return final, nil
}

// ChatStream 执行一轮流式对话。
func (s *chatService) ChatStream(ctx context.Context, ownerID string, req *ChatTurnRequest) (<-chan StreamEvent, error) {
	turn, err := s.beginTurn(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer turn.release()
		s.runStream(ctx, ownerID, req, turn, events)
	}()
	return events, nil
}

// runStream 驱动流式状态机，向 events 发送增量并在终止时落库。
func (s *chatService) runStream(ctx context.Context, ownerID string, req *ChatTurnRequest, turn *chatTurn, events chan<- StreamEvent) {
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	emit := func(ev StreamEvent) {
		// 客户端断开后停止向通道写入，但生成与落库继续
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	state := stateStreamingContent
	var content strings.Builder
	var fnName string
	var fnArgs strings.Builder
	var usage *llm.TokenUsage
	var modelName string

	start := time.Now()
	chunks, err := s.provider.ChatStream(streamCtx, &llm.ChatRequest{
		Messages:    turn.messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Functions:   s.functions(),
	})
	if err != nil {
		s.recordLLMCall(start, nil, err)
		s.metrics.RecordChatTurn(true, err)
		emit(StreamEvent{Done: true, Error: s.modelError(streamCtx, err).Error()})
		return
	}

	for chunk := range chunks {
		if chunk.Model != "" {
			modelName = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		if chunk.FunctionCallName != "" || chunk.FunctionCallArgs != "" {
			// 函数调用负载不能流式转发，整体缓冲到参数结束
			state = stateBufferingFunctionCall
			if chunk.FunctionCallName != "" {
				fnName = chunk.FunctionCallName
			}
			fnArgs.WriteString(chunk.FunctionCallArgs)
			continue
		}

		if chunk.ContentDelta != "" && state == stateStreamingContent {
			content.WriteString(chunk.ContentDelta)
			emit(StreamEvent{ConversationID: turn.conversation.ID, Delta: chunk.ContentDelta})
		}

		if chunk.Done {
			break
		}
	}

	if state == stateBufferingFunctionCall && fnName != "" {
		state = stateExecutingFunction
		emit(StreamEvent{ConversationID: turn.conversation.ID, FunctionCall: fnName})

		call := &llm.FunctionCall{Name: fnName, Arguments: fnArgs.String()}
		result := s.executeFunction(streamCtx, ownerID, req, call)
		turn.messages = append(turn.messages,
			llm.Message{Role: llm.RoleAssistant, FunctionCall: call},
			llm.Message{Role: llm.RoleFunction, Name: fnName, Content: result},
		)

		// 后续回答在新的模型调用中流式产生，不再允许函数调用
		state = stateStreamingFollowup
		followStart := time.Now()
		followup, err := s.provider.ChatStream(streamCtx, &llm.ChatRequest{
			Messages:    turn.messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			s.recordLLMCall(followStart, nil, err)
			s.metrics.RecordChatTurn(true, err)
			emit(StreamEvent{Done: true, Error: s.modelError(streamCtx, err).Error()})
			return
		}
		for chunk := range followup {
			if chunk.Model != "" {
				modelName = chunk.Model
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.ContentDelta != "" {
				content.WriteString(chunk.ContentDelta)
				emit(StreamEvent{ConversationID: turn.conversation.ID, Delta: chunk.ContentDelta})
			}
			if chunk.Done {
				break
			}
		}
	}
	state = stateDone

	if strings.TrimSpace(content.String()) == "" {
		err := errors.ErrModelUnavailable.WithMessage("model produced no content")
		s.metrics.RecordChatTurn(true, err)
		emit(StreamEvent{Done: true, Error: err.Error()})
		return
	}

	// 生成已经完成，落库使用与调用方生命周期解耦的上下文，
	// 客户端断开不会丢掉模型已经算出的这一轮。
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer persistCancel()
	assistant, err := s.persistAssistant(persistCtx, turn.conversation.ID, content.String(), modelName, usage)
	if err != nil {
		s.metrics.RecordChatTurn(true, err)
		emit(StreamEvent{Done: true, Error: err.Error()})
		return
	}

	s.metrics.RecordChatTurn(true, nil)
	emit(StreamEvent{
		ConversationID: turn.conversation.ID,
		Done:           true,
		Message:        assistant,
	})
}

// chatTurn 保存一轮对话的中间状态。
type chatTurn struct {
	conversation *model.Conversation
	messages     []llm.Message
	release      func()
}

// beginTurn 解析会话、持久化用户消息并组装模型输入。
// 用户消息先于任何模型调用落库。
func (s *chatService) beginTurn(ctx context.Context, ownerID string, req *ChatTurnRequest) (*chatTurn, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, errors.ErrEmptyMessage
	}

	conv, err := s.resolveConversation(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}

	release := s.lockConversation(conv.ID)
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	userMsg := &model.Message{
		ID:             id.New(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Message,
	}
	if err := s.store.Messages().Create(ctx, userMsg); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if err := s.store.Conversations().Touch(ctx, conv.ID, time.Now()); err != nil {
		logger.Warnw("更新会话时间失败", "conversation_id", conv.ID, "error", err.Error())
	}

	history, err := s.store.Messages().ListRecent(ctx, conv.ID, s.historyWindow)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	system := s.buildSystemPrompt(ctx, ownerID, req)
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, msg := range history {
		messages = append(messages, toLLMMessage(msg))
	}

	ok = true
	return &chatTurn{
		conversation: conv,
		messages:     messages,
		release:      release,
	}, nil
}

func (s *chatService) resolveConversation(ctx context.Context, ownerID string, req *ChatTurnRequest) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return s.conversations.Get(ctx, ownerID, req.ConversationID)
	}
	return s.conversations.Create(ctx, ownerID, titleFromMessage(req.Message), nil)
}

// buildSystemPrompt 组装系统提示词：基础人设 + 可选的检索上下文块。
// 检索失败静默降级，本轮回答不携带额外上下文。
func (s *chatService) buildSystemPrompt(ctx context.Context, ownerID string, req *ChatTurnRequest) string {
	contextBlock := s.retrievalContext(ctx, ownerID, req)
	if contextBlock == "" {
		return basePersona
	}
	return basePersona + "\n\nRelevant context from the user's documents:\n" + contextBlock
}

// retrievalContext 返回格式化的检索上下文块，按查询哈希缓存。
func (s *chatService) retrievalContext(ctx context.Context, ownerID string, req *ChatTurnRequest) string {
	key := contextCacheKey(ownerID, req.KnowledgeBaseID, req.Message)

	if s.cache != nil {
		var cached string
		if found, err := s.cache.Get(ctx, key, &cached); err == nil && found {
			s.metrics.RecordContextCache(true)
			return cached
		}
		s.metrics.RecordContextCache(false)
	}

	block, err := s.searchContext(ctx, ownerID, req)
	if err != nil {
		// 检索不可用时静默跳过上下文，不中断本轮对话
		s.metrics.RecordRetrievalDegraded()
		logger.Warnw("检索上下文不可用，本轮跳过", "error", err.Error())
		return ""
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, block, contextCacheTTL); err != nil {
			logger.Warnw("写入上下文缓存失败", "error", err.Error())
		}
	}
	return block
}

func (s *chatService) searchContext(ctx context.Context, ownerID string, req *ChatTurnRequest) (string, error) {
	searchReq := &SearchRequest{
		Query: req.Message,
		Limit: contextSearchLimit,
	}

	var results []*SearchResult
	var err error
	if req.KnowledgeBaseID != "" {
		results, err = s.knowledge.Search(ctx, ownerID, req.KnowledgeBaseID, searchReq)
	} else {
		results, err = s.retriever.Search(ctx, ownerID, searchReq)
	}
	if err != nil {
		return "", err
	}
	return formatContextBlock(results), nil
}

// functions 返回本轮声明给模型的可调用函数。
func (s *chatService) functions() []llm.Function {
	return []llm.Function{
		{
			Name:        fnSearchDocuments,
			Description: "Search the user's documents for fragments relevant to a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "search query"},
					"limit": map[string]any{"type": "integer", "description": "max results, default 5"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        fnSearchKnowledgeBase,
			Description: "Search a specific knowledge base for fragments relevant to a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"knowledge_base_id": map[string]any{"type": "string", "description": "knowledge base id"},
					"query":             map[string]any{"type": "string", "description": "search query"},
					"limit":             map[string]any{"type": "integer", "description": "max results, default 5"},
				},
				"required": []string{"knowledge_base_id", "query"},
			},
		},
	}
}

// functionArgs 检索函数的参数。
type functionArgs struct {
	Query           string `json:"query"`
	Limit           int    `json:"limit"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
}

// executeFunction 执行模型请求的检索函数，返回序列化结果。
// 执行失败返回描述性文本而不是错误，让模型基于失败信息继续回答。
func (s *chatService) executeFunction(ctx context.Context, ownerID string, req *ChatTurnRequest, call *llm.FunctionCall) string {
	s.metrics.RecordFunctionCall()

	var args functionArgs
	if err := json.UnmarshalString(call.Arguments, &args); err != nil {
		return fmt.Sprintf(`{"error": "invalid function arguments: %s"}`, err.Error())
	}
	if args.Limit <= 0 || args.Limit > maxFunctionResults {
		args.Limit = maxFunctionResults
	}

	searchReq := &SearchRequest{Query: args.Query, Limit: args.Limit}

	var results []*SearchResult
	var err error
	switch call.Name {
	case fnSearchDocuments:
		results, err = s.retriever.Search(ctx, ownerID, searchReq)
	case fnSearchKnowledgeBase:
		kbID := args.KnowledgeBaseID
		if kbID == "" {
			kbID = req.KnowledgeBaseID
		}
		results, err = s.knowledge.Search(ctx, ownerID, kbID, searchReq)
	default:
		return fmt.Sprintf(`{"error": "unknown function: %s"}`, call.Name)
	}
	if err != nil {
		return fmt.Sprintf(`{"error": "search failed: %s"}`, err.Error())
	}

	payload, err := json.MarshalString(results)
	if err != nil {
		return `{"error": "failed to serialize search results"}`
	}
	return payload
}

// persistAssistant 持久化助手消息并刷新会话时间。
func (s *chatService) persistAssistant(ctx context.Context, convID, content, modelName string, usage *llm.TokenUsage) (*model.Message, error) {
	msg := &model.Message{
		ID:             id.New(),
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        content,
		Model:          modelName,
	}
	if usage != nil {
		msg.PromptTokens = usage.PromptTokens
		msg.CompletionTokens = usage.CompletionTokens
		msg.TotalTokens = usage.TotalTokens
	}

	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if err := s.store.Conversations().Touch(ctx, convID, time.Now()); err != nil {
		logger.Warnw("更新会话时间失败", "conversation_id", convID, "error", err.Error())
	}
	return msg, nil
}

// modelError 将模型调用失败映射为业务错误。
func (s *chatService) modelError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.ErrChatTimeout.WithCause(err)
	}
	return errors.ErrModelUnavailable.WithCause(err)
}

func (s *chatService) recordLLMCall(start time.Time, resp *llm.ChatResponse, err error) {
	prompt, completion := 0, 0
	if resp != nil && resp.Usage != nil {
		prompt = resp.Usage.PromptTokens
		completion = resp.Usage.CompletionTokens
	}
	s.metrics.RecordLLMCall(time.Since(start), prompt, completion, err)
}

// lockConversation 获取会话级互斥锁，返回释放函数。
func (s *chatService) lockConversation(convID string) func() {
	v, _ := s.locks.LoadOrStore(convID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// toLLMMessage 将持久化消息转换为模型输入消息。
func toLLMMessage(msg *model.Message) llm.Message {
	out := llm.Message{
		Role:    llm.Role(msg.Role),
		Content: msg.Content,
		Name:    msg.FunctionName,
	}
	if msg.Role == model.RoleAssistant && msg.FunctionName != "" && msg.FunctionArgs != "" {
		out.FunctionCall = &llm.FunctionCall{Name: msg.FunctionName, Arguments: msg.FunctionArgs}
		out.Name = ""
	}
	return out
}

// formatContextBlock 将检索结果格式化为编号的上下文块。
func formatContextBlock(results []*SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		text := r.Text
		if runes := []rune(text); len(runes) > contextSnippetRunes {
			text = string(runes[:contextSnippetRunes]) + "..."
		}
		fmt.Fprintf(&b, "[%d] (score %.2f, document %s)\n%s\n\n", i+1, r.Score, r.DocumentID, text)
	}
	return strings.TrimSpace(b.String())
}

// contextCacheKey 生成检索上下文的缓存键：属主与范围限定下的查询哈希。
func contextCacheKey(ownerID, kbID, query string) string {
	sum := sha256.Sum256([]byte(ownerID + "\x00" + kbID + "\x00" + query))
	return "chat:ctx:" + hex.EncodeToString(sum[:])
}
