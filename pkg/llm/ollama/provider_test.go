package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kart-io/chatbase/pkg/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("expected BaseURL http://localhost:11434, got %s", cfg.BaseURL)
	}
	if cfg.EmbedModel != "nomic-embed-text" {
		t.Errorf("expected EmbedModel nomic-embed-text, got %s", cfg.EmbedModel)
	}
	if cfg.ChatModel != "qwen2.5:7b" {
		t.Errorf("expected ChatModel qwen2.5:7b, got %s", cfg.ChatModel)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("expected Timeout 120s, got %v", cfg.Timeout)
	}
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(map[string]any{
		"base_url":   "http://ollama:11434",
		"chat_model": "llama3",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if provider.Name() != ProviderName {
		t.Errorf("expected provider name %s, got %s", ProviderName, provider.Name())
	}
}

func TestProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("expected path /api/embed, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}

		body, _ := io.ReadAll(r.Body)
		var req embedRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("expected model nomic-embed-text, got %s", req.Model)
		}
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResponse{
			Model:      "nomic-embed-text",
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	embeddings, err := provider.Embed(context.Background(), []string{"text1", "text2"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(embeddings) != 2 || embeddings[1][0] != 0.3 {
		t.Errorf("unexpected embeddings: %v", embeddings)
	}
}

func TestProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected path /api/chat, got %s", r.URL.Path)
		}

		// 函数角色消息转换为 tool 角色，函数声明转换为 tools
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[1].Role != "tool" {
			t.Errorf("expected function message mapped to tool role, got %+v", req.Messages)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "search_documents" {
			t.Errorf("expected search_documents tool, got %+v", req.Tools)
		}
		if req.Options["temperature"] != 0.3 {
			t.Errorf("expected temperature option 0.3, got %v", req.Options)
		}

		resp := chatResponse{
			Model:           "qwen2.5:7b",
			Message:         chatMessage{Role: "assistant", Content: "收入增长了 12%。"},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 10,
			EvalCount:       5,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	resp, err := provider.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "收入表现如何？"},
			{Role: llm.RoleFunction, Name: "search_documents", Content: "[]"},
		},
		Temperature: 0.3,
		Functions: []llm.Function{{
			Name:        "search_documents",
			Description: "search uploaded documents",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "收入增长了 12%。" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total tokens 15, got %+v", resp.Usage)
	}
}

// tool_calls 的对象参数序列化为 JSON 字符串后转发。
func TestProviderChatToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "qwen2.5:7b",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "search_documents", "arguments": {"query": "revenue"}}}]
			},
			"done": true,
			"done_reason": "stop"
		}`)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	resp, err := provider.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "how did revenue do?"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.FunctionCall == nil || resp.FunctionCall.Name != "search_documents" {
		t.Fatalf("expected function call, got %+v", resp)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(resp.FunctionCall.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["query"] != "revenue" {
		t.Errorf("unexpected arguments: %s", resp.FunctionCall.Arguments)
	}
}

// 流式响应是逐行 JSON：坏行跳过，done 行终止并携带用量。
func TestProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, `{"model":"qwen2.5:7b","message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		fmt.Fprint(w, "{not json}\n")
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"lo."},"done":false}`+"\n")
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":7}`+"\n")
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	chunks, err := provider.ChatStream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var content string
	var got []llm.StreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
		content += chunk.ContentDelta
	}

	if content != "Hello." {
		t.Errorf("expected content 'Hello.', got %q", content)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(got), got)
	}
	last := got[len(got)-1]
	if !last.Done || last.FinishReason != "stop" {
		t.Errorf("expected terminal chunk with finish_reason stop, got %+v", last)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 17 {
		t.Errorf("expected total tokens 17, got %+v", last.Usage)
	}
}

func TestProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected path /api/generate, got %s", r.URL.Path)
		}

		body, _ := io.ReadAll(r.Body)
		var req generateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if req.System != "be brief" {
			t.Errorf("expected system prompt, got %s", req.System)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:           "qwen2.5:7b",
			Response:        "done",
			Done:            true,
			PromptEvalCount: 3,
			EvalCount:       1,
		})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	resp, err := provider.Generate(context.Background(), "summarize", "be brief")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("expected content done, got %s", resp.Content)
	}
	if resp.TokenUsage == nil || resp.TokenUsage.TotalTokens != 4 {
		t.Errorf("expected total tokens 4, got %+v", resp.TokenUsage)
	}
}

func TestProviderListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected path /api/tags, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models": [{"name": "qwen2.5:7b"}, {"name": "nomic-embed-text"}]}`)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	provider := NewProviderWithConfig(cfg)

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen2.5:7b" {
		t.Errorf("unexpected models: %v", models)
	}
}
