package memory

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// ChunkerConfig 切块配置
type ChunkerConfig struct {
	// 单块 token 上限，超过该阈值的文本才会被切块
	ChunkSize int `json:"chunk_size"`
	// 相邻块的重叠 token 数，保留跨块上下文
	ChunkOverlap int `json:"chunk_overlap"`
	// 尾块最小 token 数，小于则并入前块
	MinChunkTokens int `json:"min_chunk_tokens"`
	// 跳过 tiktoken 初始化，按字符估算计数（离线环境适用）
	EstimateTokens bool `json:"estimate_tokens"`
}

// DefaultChunkerConfig 返回默认切块配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:      512,
		ChunkOverlap:   102, // 约 20% 重叠
		MinChunkTokens: 50,
	}
}

// Chunk 一个切块
type Chunk struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// tokenCounter 基于 tiktoken cl100k_base 的 token 计数器。
// 编码数据惰性初始化（首次使用时可能下载）；初始化失败时
// 回退到每 token 约 4 字符的估算并只告警一次.
type tokenCounter struct {
	once         sync.Once
	enc          *tiktoken.Tiktoken
	err          error
	warnOnce     sync.Once
	estimateOnly bool
	logger       *zap.Logger
}

func newTokenCounter(logger *zap.Logger) *tokenCounter {
	return &tokenCounter{logger: logger}
}

// Count 返回文本的 token 数.
func (t *tokenCounter) Count(text string) int {
	if t.estimateOnly {
		return estimateTokens(text)
	}

	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
	})
	if t.err != nil {
		t.warnOnce.Do(func() {
			t.logger.Warn("tiktoken init failed, falling back to character estimate",
				zap.Error(t.err))
		})
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return len(text) / 4
}

// chunkSeparators 分隔符优先级：段落 > 行 > 句子 > 词
var chunkSeparators = []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}

// Chunker 递归切块器。
// 在语义边界（段落、行、句子）处分割，单段仍超限时逐级降级，
// 最后手段按字符硬切.
type Chunker struct {
	cfg     ChunkerConfig
	counter *tokenCounter
	logger  *zap.Logger
}

// NewChunker 创建切块器.
func NewChunker(cfg ChunkerConfig, logger *zap.Logger) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.MinChunkTokens <= 0 {
		cfg.MinChunkTokens = def.MinChunkTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := newTokenCounter(logger)
	counter.estimateOnly = cfg.EstimateTokens
	return &Chunker{
		cfg:     cfg,
		counter: counter,
		logger:  logger,
	}
}

// Split 将文本切为不超过 ChunkSize token 的块。
// 未超限的文本原样作为单块返回，一个字符都不改动.
func (c *Chunker) Split(text string) []Chunk {
	total := c.counter.Count(text)
	if total <= c.cfg.ChunkSize {
		return []Chunk{{Text: text, TokenCount: total}}
	}

	segments := c.split(text, chunkSeparators)

	// 丢弃空白段
	kept := segments[:0]
	for _, seg := range segments {
		if strings.TrimSpace(seg) != "" {
			kept = append(kept, seg)
		}
	}
	segments = kept

	// 尾块残段并入前块
	if len(segments) > 1 {
		last := segments[len(segments)-1]
		if c.counter.Count(last) < c.cfg.MinChunkTokens {
			segments[len(segments)-2] += last
			segments = segments[:len(segments)-1]
		}
	}

	chunks := make([]Chunk, 0, len(segments))
	for i, seg := range segments {
		body := seg
		if i > 0 {
			body = c.overlapTail(segments[i-1]) + body
		}
		body = strings.TrimSpace(body)
		chunks = append(chunks, Chunk{Text: body, TokenCount: c.counter.Count(body)})
	}

	c.logger.Debug("text chunked",
		zap.Int("total_tokens", total),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.cfg.ChunkSize),
		zap.Int("overlap", c.cfg.ChunkOverlap))

	return chunks
}

// split 递归分割：按当前分隔符切开后贪心打包，仍超限的单段降级到
// 下一级分隔符，分隔符用尽后按字符硬切.
func (c *Chunker) split(text string, separators []string) []string {
	if c.counter.Count(text) <= c.cfg.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.splitByRunes(text)
	}

	parts := strings.SplitAfter(text, separators[0])

	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, part := range parts {
		if part == "" {
			continue
		}
		if c.counter.Count(part) > c.cfg.ChunkSize {
			flush()
			segments = append(segments, c.split(part, separators[1:])...)
			continue
		}
		if current.Len() > 0 && c.counter.Count(current.String()+part) > c.cfg.ChunkSize {
			flush()
		}
		current.WriteString(part)
	}
	flush()

	return segments
}

// splitByRunes 按字符硬切（最后手段），步长按每 token 约 4 字符估算.
func (c *Chunker) splitByRunes(text string) []string {
	runes := []rune(text)
	step := c.cfg.ChunkSize * 4
	if step <= 0 {
		step = 2048
	}

	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + step
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// overlapTail 取前一段末尾约 ChunkOverlap 个 token 的文本作为重叠前缀，
// 对齐到词边界避免半词开头.
func (c *Chunker) overlapTail(prev string) string {
	if c.cfg.ChunkOverlap <= 0 {
		return ""
	}
	runes := []rune(prev)
	want := c.cfg.ChunkOverlap * 4
	if len(runes) <= want {
		return prev
	}
	tail := string(runes[len(runes)-want:])
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}
