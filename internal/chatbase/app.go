package chatbase

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"

	"github.com/kart-io/chatbase/internal/chatbase/biz"
	"github.com/kart-io/chatbase/internal/chatbase/handler"
	"github.com/kart-io/chatbase/internal/chatbase/router"
	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/cache"
	"github.com/kart-io/chatbase/pkg/component/milvus"
	"github.com/kart-io/chatbase/pkg/component/mysql"
	"github.com/kart-io/chatbase/pkg/component/redis"
	"github.com/kart-io/chatbase/pkg/llm"
	_ "github.com/kart-io/chatbase/pkg/llm/ollama" // 注册 ollama 供应商
	_ "github.com/kart-io/chatbase/pkg/llm/openai" // 注册 openai 供应商
	"github.com/kart-io/chatbase/pkg/llm/resilience"
)

// Run 装配依赖并运行 chatbase 服务直到收到退出信号。
func Run(opts *Options) error {
	// 1. 日志
	opts.Log.AddInitialField("service.name", "chatbase")
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("启动 chatbase 服务")

	// 2. MySQL
	mysqlClient, err := mysql.New(opts.MySQL)
	if err != nil {
		return fmt.Errorf("failed to initialize mysql: %w", err)
	}
	defer mysqlClient.Close()

	db := mysqlClient.DB()
	if err := db.AutoMigrate(
		&model.Document{},
		&model.Conversation{},
		&model.Message{},
		&model.KnowledgeBase{},
		&model.KnowledgeAssociation{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	dataStore := store.NewStore(db)
	logger.Info("MySQL 初始化完成")

	// 3. 响应缓存
	responseCache, cleanup, err := newCache(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. Milvus 向量存储
	milvusClient, err := milvus.New(opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to initialize milvus: %w", err)
	}
	vectorStore := store.NewMilvusStore(milvusClient, opts.Pipeline.Collection)
	defer vectorStore.Close(context.Background())

	ensureCtx, cancel := context.WithTimeout(context.Background(), opts.Milvus.Timeout)
	defer cancel()
	if err := vectorStore.EnsureCollection(ensureCtx, opts.Pipeline.EmbeddingDim); err != nil {
		return fmt.Errorf("failed to ensure milvus collection: %w", err)
	}
	logger.Info("Milvus 初始化完成")

	// 5. LLM 供应商（带重试与熔断包装，嵌入结果按文本哈希缓存）
	embedder, chatter, err := newProviders(opts, responseCache)
	if err != nil {
		return err
	}

	// 6. 嵌入任务协程池
	pool, err := ants.NewPool(opts.Pipeline.WorkerPoolSize)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	// 7. 业务层
	documents := biz.NewDocumentService(dataStore, vectorStore, embedder, pool)
	retriever := biz.NewRetriever(vectorStore, embedder)
	knowledge := biz.NewKnowledgeBaseService(dataStore, retriever)
	conversations := biz.NewConversationService(dataStore)
	chat := biz.NewChatService(dataStore, conversations, retriever, knowledge, chatter, responseCache, &biz.ChatConfig{
		HistoryWindow: opts.Pipeline.HistoryWindow,
		Timeout:       opts.Pipeline.ChatTimeout,
	})
	logger.Info("业务层初始化完成")

	// 8. 路由
	gin.SetMode(opts.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.Register(engine, &router.Handlers{
		Documents:      handler.NewDocumentHandler(documents, retriever),
		KnowledgeBases: handler.NewKnowledgeBaseHandler(knowledge),
		Conversations:  handler.NewConversationHandler(conversations),
		Chat:           handler.NewChatHandler(chat),
	})

	// 9. HTTP 服务器与优雅关闭
	return serve(opts.Server, engine)
}

// newCache 按配置创建响应缓存后端。
func newCache(opts *Options) (cache.Cache, func(), error) {
	if opts.Cache.Backend == "memory" {
		mem := cache.NewMemoryCache(time.Minute)
		return mem, mem.Stop, nil
	}

	redisClient, err := redis.New(opts.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info("Redis 初始化完成")
	return cache.NewRedisCache(redisClient.Client(), opts.Cache.KeyPrefix), func() { _ = redisClient.Close() }, nil
}

// newProviders 构造嵌入与对话供应商并套上韧性包装。
// 嵌入供应商再包一层缓存，重复文本不触发模型调用。
func newProviders(opts *Options, responseCache cache.Cache) (llm.EmbeddingProvider, llm.ChatProvider, error) {
	embedBase, err := llm.NewProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	chatBase, err := llm.NewProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat provider: %w", err)
	}

	embedRetry := resilience.DefaultRetryConfig()
	embedRetry.MaxAttempts = opts.Embedding.MaxRetries
	chatRetry := resilience.DefaultRetryConfig()
	chatRetry.MaxAttempts = opts.Chat.MaxRetries

	embedder := llm.NewCachedEmbeddingProvider(
		resilience.NewResilientEmbeddingProvider(embedBase, embedRetry, nil),
		responseCache, nil,
	)
	chatter := resilience.NewResilientChatProvider(chatBase, chatRetry, nil)
	logger.Infow("LLM 供应商初始化完成",
		"embedding", opts.Embedding.Provider,
		"chat", opts.Chat.Provider,
	)
	return embedder, chatter, nil
}

// serve 启动 HTTP 服务器并在收到信号后优雅关闭。
func serve(opts *ServerOptions, engine *gin.Engine) error {
	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      engine,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP 服务器开始监听", "addr", opts.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-quit:
		logger.Infow("收到退出信号，开始优雅关闭", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("chatbase 服务已退出")
	return nil
}
