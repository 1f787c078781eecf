// Package llm 提供统一的 LLM 供应商抽象层。
// 支持 Embedding 和 Chat 使用不同供应商的模型，并支持
// 函数调用（工具）与流式输出。
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name 函数消息的函数名（Role 为 function 时必填）。
	Name string `json:"name,omitempty"`
	// FunctionCall 助手消息携带的函数调用请求。
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall 表示模型发起的一次函数调用。
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments 是模型生成的 JSON 参数字符串。
	Arguments string `json:"arguments"`
}

// Function 声明一个模型可调用的函数。
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters 是 JSON Schema 形式的参数声明。
	Parameters map[string]any `json:"parameters"`
}

// TokenUsage 记录一次调用消耗的 token 数。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest 表示一次 Chat 调用的完整参数。
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// Functions 本轮允许模型调用的函数，为空表示禁止函数调用。
	Functions []Function
}

// ChatResponse 表示一次 Chat 调用的结果。
// Content 与 FunctionCall 互斥：模型要么直接回答，要么请求调用函数。
type ChatResponse struct {
	Content      string
	FunctionCall *FunctionCall
	Model        string
	Usage        *TokenUsage
}

// StreamChunk 表示流式输出中的一个增量。
type StreamChunk struct {
	// ContentDelta 内容增量，可能为空。
	ContentDelta string
	// FunctionCall 模型在流中发起的函数调用（名称与参数增量）。
	FunctionCallName string
	FunctionCallArgs string
	// FinishReason 结束原因（stop / function_call），仅终止块携带。
	FinishReason string
	// Done 为 true 表示流结束，之后不会再有块。
	Done bool
	// Model 产生该块的模型名。
	Model string
	// Usage 终止块可能携带的 token 统计。
	Usage *TokenUsage
}

// GenerateResponse 表示单轮生成的结果。
type GenerateResponse struct {
	Content    string
	Model      string
	TokenUsage *TokenUsage
}

// EmbeddingProvider 定义 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string
}

// ChatProvider 定义 Chat 供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话，支持函数调用声明。
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream 以流式方式进行多轮对话。
	// 返回的通道在流结束（Done 块）或 ctx 取消后关闭。
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Generate 根据提示生成文本（单轮）。
	Generate(ctx context.Context, prompt string, systemPrompt string) (*GenerateResponse, error)

	// Name 返回供应商名称。
	Name() string
}

// Provider 同时支持 Embedding 和 Chat 的完整供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// ProviderFactory 供应商工厂函数类型。
type ProviderFactory func(config map[string]any) (Provider, error)

// registry 供应商注册表。
var registry = &providerRegistry{
	providers: make(map[string]ProviderFactory),
}

type providerRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// RegisterProvider 注册供应商工厂。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[name] = factory
}

// NewProvider 根据名称创建供应商实例。
func NewProvider(name string, config map[string]any) (Provider, error) {
	registry.mu.RLock()
	factory, ok := registry.providers[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	return factory(config)
}

// ListProviders 列出所有已注册的供应商名称。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	return names
}
