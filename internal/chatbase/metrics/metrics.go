// Package metrics 提供 chatbase 服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics chatbase 服务业务指标。
type Metrics struct {
	// 对话指标
	chatTurnsTotal   uint64 // 总对话轮次
	chatTurnsErrors  uint64 // 对话错误次数
	chatStreamsTotal uint64 // 流式对话次数
	functionCalls    uint64 // 模型发起的函数调用次数

	// 上下文缓存指标
	contextCacheHits   uint64 // 检索上下文缓存命中
	contextCacheMisses uint64 // 检索上下文缓存未命中

	// 检索指标
	retrievalTotal    uint64  // 总检索次数
	retrievalDuration float64 // 检索总耗时（秒）
	retrievalErrors   uint64  // 检索错误次数
	retrievalDegraded uint64  // 检索降级次数（跳过上下文继续回答）

	// LLM 调用指标
	llmCallsTotal       uint64  // LLM 总调用次数
	llmCallsDuration    float64 // LLM 调用总耗时（秒）
	llmCallsErrors      uint64  // LLM 调用错误次数
	llmTokensPrompt     uint64  // Prompt tokens 总数
	llmTokensCompletion uint64  // Completion tokens 总数

	// 文档处理指标
	documentsProcessed uint64 // 处理成功的文档数
	documentsFailed    uint64 // 处理失败的文档数
	fragmentsIndexed   uint64 // 已索引片段数
	fragmentsFailed    uint64 // 索引失败片段数

	startTime  time.Time
	durationMu sync.Mutex
}

// 全局指标实例。
var (
	global *Metrics
	once   sync.Once
)

// Get 获取全局指标实例。
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			startTime: time.Now(),
		}
	})
	return global
}

// RecordChatTurn 记录一次对话轮次。
func (m *Metrics) RecordChatTurn(streamed bool, err error) {
	atomic.AddUint64(&m.chatTurnsTotal, 1)
	if streamed {
		atomic.AddUint64(&m.chatStreamsTotal, 1)
	}
	if err != nil {
		atomic.AddUint64(&m.chatTurnsErrors, 1)
	}
}

// RecordFunctionCall 记录模型发起的函数调用。
func (m *Metrics) RecordFunctionCall() {
	atomic.AddUint64(&m.functionCalls, 1)
}

// RecordContextCache 记录检索上下文缓存命中情况。
func (m *Metrics) RecordContextCache(hit bool) {
	if hit {
		atomic.AddUint64(&m.contextCacheHits, 1)
	} else {
		atomic.AddUint64(&m.contextCacheMisses, 1)
	}
}

// RecordRetrieval 记录检索操作。
func (m *Metrics) RecordRetrieval(duration time.Duration, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordRetrievalDegraded 记录一次检索降级（对话轮次继续但不注入上下文）。
func (m *Metrics) RecordRetrievalDegraded() {
	atomic.AddUint64(&m.retrievalDegraded, 1)
}

// RecordLLMCall 记录 LLM 调用。
func (m *Metrics) RecordLLMCall(duration time.Duration, promptTokens, completionTokens int, err error) {
	atomic.AddUint64(&m.llmCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.llmCallsErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()

	if promptTokens > 0 {
		atomic.AddUint64(&m.llmTokensPrompt, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.llmTokensCompletion, uint64(completionTokens))
	}
}

// RecordDocumentProcessed 记录一次文档处理结果。
func (m *Metrics) RecordDocumentProcessed(fragmentsOK, fragmentsFailed int, err error) {
	if err != nil {
		atomic.AddUint64(&m.documentsFailed, 1)
	} else {
		atomic.AddUint64(&m.documentsProcessed, 1)
	}
	if fragmentsOK > 0 {
		atomic.AddUint64(&m.fragmentsIndexed, uint64(fragmentsOK))
	}
	if fragmentsFailed > 0 {
		atomic.AddUint64(&m.fragmentsFailed, uint64(fragmentsFailed))
	}
}

// counter 输出一个 Prometheus counter。
func counter(sb *strings.Builder, prefix, name, help string, value uint64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s counter\n", prefix, name)
	fmt.Fprintf(sb, "%s_%s %d\n\n", prefix, name, value)
}

// gauge 输出一个 Prometheus gauge。
func gauge(sb *strings.Builder, prefix, name, help string, value float64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s gauge\n", prefix, name)
	fmt.Fprintf(sb, "%s_%s %.6f\n\n", prefix, name, value)
}

// Export 导出 Prometheus 格式指标。
func (m *Metrics) Export(namespace, subsystem string) string {
	var sb strings.Builder
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	counter(&sb, prefix, "chat_turns_total", "Total number of chat turns.", atomic.LoadUint64(&m.chatTurnsTotal))
	counter(&sb, prefix, "chat_turns_errors_total", "Number of failed chat turns.", atomic.LoadUint64(&m.chatTurnsErrors))
	counter(&sb, prefix, "chat_streams_total", "Number of streamed chat turns.", atomic.LoadUint64(&m.chatStreamsTotal))
	counter(&sb, prefix, "function_calls_total", "Number of model-initiated function calls.", atomic.LoadUint64(&m.functionCalls))

	hits := atomic.LoadUint64(&m.contextCacheHits)
	misses := atomic.LoadUint64(&m.contextCacheMisses)
	counter(&sb, prefix, "context_cache_hits_total", "Retrieval context cache hits.", hits)
	counter(&sb, prefix, "context_cache_misses_total", "Retrieval context cache misses.", misses)

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	gauge(&sb, prefix, "context_cache_hit_rate", "Retrieval context cache hit rate (0-1).", hitRate)

	counter(&sb, prefix, "retrieval_total", "Total number of retrievals.", atomic.LoadUint64(&m.retrievalTotal))
	counter(&sb, prefix, "retrieval_errors_total", "Number of retrieval errors.", atomic.LoadUint64(&m.retrievalErrors))
	counter(&sb, prefix, "retrieval_degraded_total", "Number of chat turns answered without retrieval context.", atomic.LoadUint64(&m.retrievalDegraded))

	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	gauge(&sb, prefix, "retrieval_duration_seconds_total", "Total retrieval duration.", retrievalDuration)

	counter(&sb, prefix, "llm_calls_total", "Total number of LLM calls.", atomic.LoadUint64(&m.llmCallsTotal))
	counter(&sb, prefix, "llm_calls_errors_total", "Number of LLM call errors.", atomic.LoadUint64(&m.llmCallsErrors))
	gauge(&sb, prefix, "llm_calls_duration_seconds_total", "Total LLM call duration.", llmDuration)
	counter(&sb, prefix, "llm_tokens_prompt_total", "Total prompt tokens.", atomic.LoadUint64(&m.llmTokensPrompt))
	counter(&sb, prefix, "llm_tokens_completion_total", "Total completion tokens.", atomic.LoadUint64(&m.llmTokensCompletion))

	counter(&sb, prefix, "documents_processed_total", "Documents processed successfully.", atomic.LoadUint64(&m.documentsProcessed))
	counter(&sb, prefix, "documents_failed_total", "Documents that failed processing.", atomic.LoadUint64(&m.documentsFailed))
	counter(&sb, prefix, "fragments_indexed_total", "Fragments indexed into the vector store.", atomic.LoadUint64(&m.fragmentsIndexed))
	counter(&sb, prefix, "fragments_failed_total", "Fragments that failed embedding or indexing.", atomic.LoadUint64(&m.fragmentsFailed))

	gauge(&sb, prefix, "uptime_seconds", "Service uptime in seconds.", time.Since(m.startTime).Seconds())

	return sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *Metrics) Stats() map[string]interface{} {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	hits := atomic.LoadUint64(&m.contextCacheHits)
	misses := atomic.LoadUint64(&m.contextCacheMisses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	retrievalTotal := atomic.LoadUint64(&m.retrievalTotal)
	avgRetrieval := 0.0
	if retrievalTotal > 0 {
		avgRetrieval = retrievalDuration / float64(retrievalTotal)
	}

	llmTotal := atomic.LoadUint64(&m.llmCallsTotal)
	avgLLM := 0.0
	if llmTotal > 0 {
		avgLLM = llmDuration / float64(llmTotal)
	}

	return map[string]interface{}{
		"chat": map[string]interface{}{
			"turns_total":    atomic.LoadUint64(&m.chatTurnsTotal),
			"errors":         atomic.LoadUint64(&m.chatTurnsErrors),
			"streams_total":  atomic.LoadUint64(&m.chatStreamsTotal),
			"function_calls": atomic.LoadUint64(&m.functionCalls),
		},
		"context_cache": map[string]interface{}{
			"hits":     hits,
			"misses":   misses,
			"hit_rate": hitRate,
		},
		"retrieval": map[string]interface{}{
			"total":               retrievalTotal,
			"total_duration_secs": retrievalDuration,
			"avg_duration_secs":   avgRetrieval,
			"errors":              atomic.LoadUint64(&m.retrievalErrors),
			"degraded":            atomic.LoadUint64(&m.retrievalDegraded),
		},
		"llm": map[string]interface{}{
			"calls_total":         llmTotal,
			"total_duration_secs": llmDuration,
			"avg_duration_secs":   avgLLM,
			"errors":              atomic.LoadUint64(&m.llmCallsErrors),
			"tokens_prompt":       atomic.LoadUint64(&m.llmTokensPrompt),
			"tokens_completion":   atomic.LoadUint64(&m.llmTokensCompletion),
		},
		"documents": map[string]interface{}{
			"processed":         atomic.LoadUint64(&m.documentsProcessed),
			"failed":            atomic.LoadUint64(&m.documentsFailed),
			"fragments_indexed": atomic.LoadUint64(&m.fragmentsIndexed),
			"fragments_failed":  atomic.LoadUint64(&m.fragmentsFailed),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}

// Reset 重置所有指标（仅用于测试）。
func (m *Metrics) Reset() {
	atomic.StoreUint64(&m.chatTurnsTotal, 0)
	atomic.StoreUint64(&m.chatTurnsErrors, 0)
	atomic.StoreUint64(&m.chatStreamsTotal, 0)
	atomic.StoreUint64(&m.functionCalls, 0)
	atomic.StoreUint64(&m.contextCacheHits, 0)
	atomic.StoreUint64(&m.contextCacheMisses, 0)
	atomic.StoreUint64(&m.retrievalTotal, 0)
	atomic.StoreUint64(&m.retrievalErrors, 0)
	atomic.StoreUint64(&m.retrievalDegraded, 0)
	atomic.StoreUint64(&m.llmCallsTotal, 0)
	atomic.StoreUint64(&m.llmCallsErrors, 0)
	atomic.StoreUint64(&m.llmTokensPrompt, 0)
	atomic.StoreUint64(&m.llmTokensCompletion, 0)
	atomic.StoreUint64(&m.documentsProcessed, 0)
	atomic.StoreUint64(&m.documentsFailed, 0)
	atomic.StoreUint64(&m.fragmentsIndexed, 0)
	atomic.StoreUint64(&m.fragmentsFailed, 0)

	m.durationMu.Lock()
	m.retrievalDuration = 0
	m.llmCallsDuration = 0
	m.startTime = time.Now()
	m.durationMu.Unlock()
}
