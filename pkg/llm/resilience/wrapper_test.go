package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/pkg/llm"
)

// flakyEmbedder 前 failures 次调用失败，之后成功。
type flakyEmbedder struct {
	failures int
	calls    int
}

var _ llm.EmbeddingProvider = (*flakyEmbedder)(nil)

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("server error, status code 502")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *flakyEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *flakyEmbedder) Name() string { return "flaky" }

type flakyChat struct {
	failures int
	calls    int
}

func (f *flakyChat) Chat(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("server error, status code 502")
	}
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (f *flakyChat) ChatStream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyChat) Generate(context.Context, string, string) (*llm.GenerateResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyChat) Name() string { return "flaky" }

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: IsRetryableError,
	}
}

func TestResilientEmbeddingProvider_RetriesTransientFailure(t *testing.T) {
	inner := &flakyEmbedder{failures: 2}
	provider := NewResilientEmbeddingProvider(inner, fastRetry(), nil)

	vecs, err := provider.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "flaky-resilient", provider.Name())
}

func TestResilientEmbeddingProvider_OpensCircuit(t *testing.T) {
	inner := &flakyEmbedder{failures: 100}
	provider := NewResilientEmbeddingProvider(inner, fastRetry(), &CircuitBreakerConfig{
		MaxFailures:      3,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	// 三次失败即熔断，第三次尝试直接被拒绝
	_, err := provider.EmbedSingle(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, StateOpen, provider.CircuitBreaker().State())
	assert.Equal(t, 3, inner.calls)

	// 熔断打开后不再触达底层供应商
	_, err = provider.EmbedSingle(context.Background(), "a")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientChatProvider_RetriesTransientFailure(t *testing.T) {
	inner := &flakyChat{failures: 1}
	provider := NewResilientChatProvider(inner, fastRetry(), nil)

	resp, err := provider.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "flaky-resilient", provider.Name())
}
