package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/chatbase/pkg/cache"
)

// EmbeddingCacheConfig 嵌入缓存配置。
type EmbeddingCacheConfig struct {
	// TTL 缓存过期时间。同一文本的嵌入结果是稳定的，可以缓存较长时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认的嵌入缓存配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		TTL:       24 * time.Hour,
		KeyPrefix: "emb:",
	}
}

// CachedEmbeddingProvider 按文本哈希缓存嵌入结果的包装器。
// 重复出现的查询与片段不再触发底层模型调用；缓存读写失败
// 静默降级为直接调用底层供应商。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    cache.Cache
	config   *EmbeddingCacheConfig
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// NewCachedEmbeddingProvider 创建带缓存的嵌入供应商。c 为 nil 时退化为透传。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, c cache.Cache, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		cache:    c,
		config:   config,
	}
}

// cacheKey 基于文本内容生成缓存键。
func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// EmbedSingle 为单个文本生成向量嵌入（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.cache == nil {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := c.cacheKey(text)
	var embedding []float32
	if found, err := c.cache.Get(ctx, key, &embedding); err == nil && found {
		return embedding, nil
	}

	embedding, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, embedding, c.config.TTL); err != nil {
		logger.Warnw("写入嵌入缓存失败", "error", err.Error())
	}
	return embedding, nil
}

// Embed 为多个文本生成向量嵌入。已缓存的文本直接命中，
// 其余文本合并为一次底层批量调用。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil {
		return c.provider.Embed(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	var missedIndices []int
	var missedTexts []string

	for i, text := range texts {
		var embedding []float32
		if found, err := c.cache.Get(ctx, c.cacheKey(text), &embedding); err == nil && found {
			embeddings[i] = embedding
			continue
		}
		missedIndices = append(missedIndices, i)
		missedTexts = append(missedTexts, text)
	}

	if len(missedTexts) == 0 {
		return embeddings, nil
	}

	computed, err := c.provider.Embed(ctx, missedTexts)
	if err != nil {
		return nil, err
	}

	for i, idx := range missedIndices {
		embeddings[idx] = computed[i]
		if err := c.cache.Set(ctx, c.cacheKey(missedTexts[i]), computed[i], c.config.TTL); err != nil {
			logger.Warnw("写入嵌入缓存失败", "error", err.Error())
		}
	}
	return embeddings, nil
}

// Name 返回供应商名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name() + "-cached"
}
