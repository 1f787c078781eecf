package biz

import (
	"strings"
	"unicode"
)

// 分块默认参数。
const (
	// DefaultChunkSize 默认分块大小（Unicode 字符数）。
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 默认相邻块之间的重叠大小。
	DefaultChunkOverlap = 200

	// boundaryForwardWindow 向前查找词边界的最大字符数。
	boundaryForwardWindow = 100
)

// Chunk 表示切分出的一个文本块及其在源文本中的字符区间 [Start, End)。
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker 将文本切分成带重叠的块，优先在词边界处断开。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建分块器。size 与 overlap 为非法值时回退到默认配置，
// overlap >= size 时收缩为 size-1，保证窗口始终向前推进。
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split 切分文本。返回的块按 Index 有序，区间覆盖整个文本；
// 去除空白后为空的块被丢弃。短于 size 的文本产生恰好一个块。
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	if len(runes) <= c.size {
		return appendChunk(nil, runes, 0, len(runes))
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}

		chunks = appendChunk(chunks, runes, start, end)
		if end == len(runes) {
			break
		}

		// 下一窗口从 end-overlap 开始；若回退导致窗口不再前进，
		// 钳制到当前块末尾，保证有限步内终止。
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// snapToBoundary 调整窗口右边界使其落在词边界上。
// 依次尝试：向后回退至多 size/2 个字符找空白；向前至多 100 个字符
// 找空白；都失败则在词中间硬切。
func snapToBoundary(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1]) {
		return end
	}

	backLimit := end - (end-start)/2
	for i := end - 1; i >= backLimit; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	forwardLimit := end + boundaryForwardWindow
	if forwardLimit > len(runes) {
		forwardLimit = len(runes)
	}
	for i := end; i < forwardLimit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	return end
}

func appendChunk(chunks []Chunk, runes []rune, start, end int) []Chunk {
	text := string(runes[start:end])
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	return append(chunks, Chunk{
		Index: len(chunks),
		Text:  text,
		Start: start,
		End:   end,
	})
}
