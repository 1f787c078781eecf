package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/llm"
	"github.com/kart-io/chatbase/pkg/utils/json"
)

const (
	// sentimentCacheTTL 情感分析结果的缓存有效期。
	sentimentCacheTTL = time.Hour

	// sentimentTemperature 分析调用使用低温度，让输出尽量确定。
	sentimentTemperature = 0.3
)

// sentimentPersona 情感分析的系统提示词。
const sentimentPersona = `You are an expert sentiment analyst. Analyze the conversation and provide:
1. Overall sentiment (positive, negative, neutral)
2. A sentiment score between 0 and 1
3. Emotional keywords
4. A short summary of the analysis

Respond with a single JSON object with fields "sentiment", "score", "keywords" and "summary". No other text.`

// SentimentAnalysis 一次会话情感分析的结果。
type SentimentAnalysis struct {
	Sentiment string   `json:"sentiment"`
	Score     float64  `json:"score"`
	Keywords  []string `json:"keywords"`
	Summary   string   `json:"summary"`
}

// neutralSentiment 模型输出无法解析时的兜底结果。
func neutralSentiment() *SentimentAnalysis {
	return &SentimentAnalysis{
		Sentiment: "neutral",
		Score:     0.5,
		Keywords:  []string{},
		Summary:   "Sentiment could not be determined.",
	}
}

// AnalyzeSentiment 分析会话近期消息的整体情感。
// 结果按消息内容哈希缓存，会话追加新消息后自动失效。
func (s *chatService) AnalyzeSentiment(ctx context.Context, ownerID, conversationID string) (*SentimentAnalysis, error) {
	conv, err := s.conversations.Get(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.Messages().ListRecent(ctx, conv.ID, s.historyWindow)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if len(history) == 0 {
		return nil, errors.ErrValidation.WithMessage("conversation has no messages to analyze")
	}

	key := sentimentCacheKey(conv.ID, history)
	if s.cache != nil {
		var cached SentimentAnalysis
		if found, err := s.cache.Get(ctx, key, &cached); err == nil && found {
			return &cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sentimentPersona})
	for _, msg := range history {
		messages = append(messages, toLLMMessage(msg))
	}

	start := time.Now()
	resp, err := s.provider.Chat(ctx, &llm.ChatRequest{
		Messages:    messages,
		Temperature: sentimentTemperature,
	})
	s.recordLLMCall(start, resp, err)
	if err != nil {
		return nil, s.modelError(ctx, err)
	}

	analysis := parseSentiment(resp.Content)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, analysis, sentimentCacheTTL); err != nil {
			logger.Warnw("写入情感分析缓存失败", "error", err.Error())
		}
	}
	return analysis, nil
}

// parseSentiment 解析模型输出。解析失败时返回中性兜底结果而不是报错。
func parseSentiment(content string) *SentimentAnalysis {
	var analysis SentimentAnalysis
	if err := json.UnmarshalString(stripCodeFence(content), &analysis); err != nil || analysis.Sentiment == "" {
		return neutralSentiment()
	}
	if analysis.Keywords == nil {
		analysis.Keywords = []string{}
	}
	return &analysis
}

// stripCodeFence 去掉模型偶尔包裹在 JSON 外层的 Markdown 代码块标记。
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// sentimentCacheKey 基于会话与消息内容生成缓存键。
func sentimentCacheKey(convID string, history []*model.Message) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s", convID)
	for _, msg := range history {
		fmt.Fprintf(h, "\x00%s\x1f%s", msg.Role, msg.Content)
	}
	return "chat:sentiment:" + hex.EncodeToString(h.Sum(nil))
}
