// Package chatbase 提供 chatbase 服务的装配与启动。
package chatbase

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/chatbase/pkg/component/milvus"
	"github.com/kart-io/chatbase/pkg/component/mysql"
	"github.com/kart-io/chatbase/pkg/component/redis"
	logopts "github.com/kart-io/chatbase/pkg/options/logger"
)

// Options 汇集 chatbase 服务的全部配置。
type Options struct {
	// Server HTTP 服务器配置。
	Server *ServerOptions `json:"server" mapstructure:"server"`

	// Log 日志配置。
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// MySQL 关系库配置。
	MySQL *mysql.Options `json:"mysql" mapstructure:"mysql"`

	// Redis 缓存后端配置。
	Redis *redis.Options `json:"redis" mapstructure:"redis"`

	// Milvus 向量库配置。
	Milvus *milvus.Options `json:"milvus" mapstructure:"milvus"`

	// Embedding 嵌入供应商配置。
	Embedding *LLMProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat 对话供应商配置。
	Chat *LLMProviderOptions `json:"chat" mapstructure:"chat"`

	// Pipeline 文档与对话流水线配置。
	Pipeline *PipelineOptions `json:"pipeline" mapstructure:"pipeline"`

	// Cache 响应缓存配置。
	Cache *CacheOptions `json:"cache" mapstructure:"cache"`
}

// ServerOptions HTTP 服务器配置。
type ServerOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// Mode gin 运行模式（debug|release|test）。
	Mode string `json:"mode" mapstructure:"mode"`

	// ReadTimeout 读超时。
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// WriteTimeout 写超时。流式响应需要足够长的写窗口。
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// ShutdownTimeout 优雅关闭等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// LLMProviderOptions LLM 供应商配置。
type LLMProviderOptions struct {
	// Provider 供应商名称（ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（openai 必填）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（openai 可选）。
	Organization string `json:"organization" mapstructure:"organization"`
}

// ToConfigMap 转换为供应商工厂所需的配置 map。
func (o *LLMProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
	}
}

// PipelineOptions 文档处理与对话编排配置。
type PipelineOptions struct {
	// Collection 片段集合名。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 嵌入向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// ChunkSize 默认分块大小（字符数）。
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap 默认分块重叠。
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// EmbedConcurrency 单文档内片段嵌入并发上限。
	EmbedConcurrency int `json:"embed-concurrency" mapstructure:"embed-concurrency"`

	// WorkerPoolSize 嵌入任务共享协程池大小。
	WorkerPoolSize int `json:"worker-pool-size" mapstructure:"worker-pool-size"`

	// HistoryWindow 每轮对话加载的历史消息条数。
	HistoryWindow int `json:"history-window" mapstructure:"history-window"`

	// ChatTimeout 单轮对话超时。
	ChatTimeout time.Duration `json:"chat-timeout" mapstructure:"chat-timeout"`
}

// CacheOptions 响应缓存配置。
type CacheOptions struct {
	// Backend 缓存后端（redis|memory）。
	Backend string `json:"backend" mapstructure:"backend"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions 创建带默认值的配置。
func NewOptions() *Options {
	embedding := &LLMProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
	chat := &LLMProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Model:      "qwen2.5:7b",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}

	return &Options{
		Server: &ServerOptions{
			Addr:            ":8080",
			Mode:            "release",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:       logopts.NewOptions(),
		MySQL:     mysql.NewOptions(),
		Redis:     redis.NewOptions(),
		Milvus:    milvus.NewOptions(),
		Embedding: embedding,
		Chat:      chat,
		Pipeline: &PipelineOptions{
			Collection:       "chatbase_fragments",
			EmbeddingDim:     768,
			ChunkSize:        1000,
			ChunkOverlap:     200,
			EmbedConcurrency: 4,
			WorkerPoolSize:   32,
			HistoryWindow:    10,
			ChatTimeout:      60 * time.Second,
		},
		Cache: &CacheOptions{
			Backend:   "redis",
			KeyPrefix: "chatbase:",
		},
	}
}

// AddFlags 注册全部命令行参数。
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.MySQL.AddFlags(fs, "mysql.")
	o.Redis.AddFlags(fs, "redis.")
	o.Milvus.AddFlags(fs, "milvus.")
	o.addServerFlags(fs)
	o.addProviderFlags(fs, "embedding", o.Embedding)
	o.addProviderFlags(fs, "chat", o.Chat)
	o.addPipelineFlags(fs)
	o.addCacheFlags(fs)
}

func (o *Options) addServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Server.Addr, "server.addr", o.Server.Addr, "HTTP listen address")
	fs.StringVar(&o.Server.Mode, "server.mode", o.Server.Mode, "Server mode (debug, release, test)")
	fs.DurationVar(&o.Server.ReadTimeout, "server.read-timeout", o.Server.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&o.Server.WriteTimeout, "server.write-timeout", o.Server.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&o.Server.ShutdownTimeout, "server.shutdown-timeout", o.Server.ShutdownTimeout, "Graceful shutdown timeout")
}

func (o *Options) addProviderFlags(fs *pflag.FlagSet, prefix string, p *LLMProviderOptions) {
	fs.StringVar(&p.Provider, prefix+".provider", p.Provider, "Provider name (ollama, openai)")
	fs.StringVar(&p.BaseURL, prefix+".base-url", p.BaseURL, "Provider API base URL")
	fs.StringVar(&p.APIKey, prefix+".api-key", p.APIKey, "Provider API key")
	fs.StringVar(&p.Model, prefix+".model", p.Model, "Model name")
	fs.DurationVar(&p.Timeout, prefix+".timeout", p.Timeout, "Request timeout")
	fs.IntVar(&p.MaxRetries, prefix+".max-retries", p.MaxRetries, "Max retries")
}

func (o *Options) addPipelineFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Pipeline.Collection, "pipeline.collection", o.Pipeline.Collection, "Vector collection name")
	fs.IntVar(&o.Pipeline.EmbeddingDim, "pipeline.embedding-dim", o.Pipeline.EmbeddingDim, "Embedding vector dimension")
	fs.IntVar(&o.Pipeline.ChunkSize, "pipeline.chunk-size", o.Pipeline.ChunkSize, "Default chunk size in characters")
	fs.IntVar(&o.Pipeline.ChunkOverlap, "pipeline.chunk-overlap", o.Pipeline.ChunkOverlap, "Default chunk overlap in characters")
	fs.IntVar(&o.Pipeline.EmbedConcurrency, "pipeline.embed-concurrency", o.Pipeline.EmbedConcurrency, "Per-document embedding concurrency")
	fs.IntVar(&o.Pipeline.WorkerPoolSize, "pipeline.worker-pool-size", o.Pipeline.WorkerPoolSize, "Shared embedding worker pool size")
	fs.IntVar(&o.Pipeline.HistoryWindow, "pipeline.history-window", o.Pipeline.HistoryWindow, "Chat history window size")
	fs.DurationVar(&o.Pipeline.ChatTimeout, "pipeline.chat-timeout", o.Pipeline.ChatTimeout, "Per-turn chat timeout")
}

func (o *Options) addCacheFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Cache.Backend, "cache.backend", o.Cache.Backend, "Cache backend (redis, memory)")
	fs.StringVar(&o.Cache.KeyPrefix, "cache.key-prefix", o.Cache.KeyPrefix, "Cache key prefix")
}

// Validate 校验配置合法性。
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.MySQL.Validate(); err != nil {
		return err
	}
	if err := o.Milvus.Validate(); err != nil {
		return err
	}
	if o.Cache.Backend == "redis" {
		if err := o.Redis.Validate(); err != nil {
			return err
		}
	}
	if err := o.validateProvider("embedding", o.Embedding); err != nil {
		return err
	}
	if err := o.validateProvider("chat", o.Chat); err != nil {
		return err
	}

	if o.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if o.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk-size must be positive")
	}
	if o.Pipeline.ChunkOverlap < 0 || o.Pipeline.ChunkOverlap >= o.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk-overlap must be in [0, chunk-size)")
	}
	if o.Pipeline.EmbeddingDim <= 0 {
		return fmt.Errorf("pipeline.embedding-dim must be positive")
	}
	if o.Cache.Backend != "redis" && o.Cache.Backend != "memory" {
		return fmt.Errorf("cache.backend must be redis or memory")
	}
	return nil
}

func (o *Options) validateProvider(prefix string, p *LLMProviderOptions) error {
	if p.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if p.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	if p.Provider == "openai" && p.APIKey == "" {
		return fmt.Errorf("%s.api-key is required for openai provider", prefix)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}
