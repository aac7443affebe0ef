package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ExtractiveSummarizer 本地抽取式摘要器。
// 不依赖外部模型，从最近的源记忆中抽取首句拼装反思块，
// 相同输入产生相同输出，供离线运行和测试使用.
type ExtractiveSummarizer struct {
	logger *zap.Logger

	// 参与抽取的最近源记忆条数
	maxSources int
	// 单句截断长度（字符）
	maxSentenceLen int
}

// NewExtractiveSummarizer 创建抽取式摘要器.
func NewExtractiveSummarizer(logger *zap.Logger) *ExtractiveSummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractiveSummarizer{
		logger:         logger.With(zap.String("component", "summarizer")),
		maxSources:     5,
		maxSentenceLen: 240,
	}
}

// Name 实现 Summarizer.
func (s *ExtractiveSummarizer) Name() string { return "extractive" }

// Summarize 实现 Summarizer：单个反思块，内容来自最近源记忆的首句.
func (s *ExtractiveSummarizer) Summarize(_ context.Context, req *SummarizeRequest) (string, error) {
	if req == nil || len(req.Sources) == 0 {
		return "", fmt.Errorf("no sources to summarize")
	}

	// 取最近的几条，源按时间升序排列
	sources := req.Sources
	if len(sources) > s.maxSources {
		sources = sources[len(sources)-s.maxSources:]
	}

	sentences := make([]string, 0, len(sources))
	layers := map[string]bool{}
	for _, src := range sources {
		if sent := firstSentence(src.Text, s.maxSentenceLen); sent != "" {
			sentences = append(sentences, sent)
		}
		if src.Layer != "" {
			layers[src.Layer] = true
		}
	}
	if len(sentences) == 0 {
		return "", fmt.Errorf("sources contain no extractable text")
	}

	tags := make([]string, 0, len(layers)+1)
	for layer := range layers {
		tags = append(tags, layer)
	}
	sort.Strings(tags)
	tags = append(tags, "extractive")

	var b strings.Builder
	b.WriteString("REFLECTION:\n")
	fmt.Fprintf(&b, "Recent activity spans %d memories. Leading observations: %s\n\n",
		len(req.Sources), strings.Join(sentences, " "))
	b.WriteString("EVIDENCE:\n")
	for i, sent := range sentences {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sent)
	}
	b.WriteString("\nIMPLICATIONS:\n")
	b.WriteString("These memories summarize the most recent window of activity and may inform follow-up behavior.\n\n")
	b.WriteString("TAGS:\n")
	b.WriteString(strings.Join(tags, ", "))
	b.WriteString("\n")

	s.logger.Debug("extractive summarization completed",
		zap.String("namespace", req.Namespace),
		zap.Int("sources", len(req.Sources)),
		zap.Int("sentences", len(sentences)))

	return b.String(), nil
}

// firstSentence 抽取文本首句，超长时在词边界截断.
func firstSentence(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	end := len(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' || r == '。' || r == '！' || r == '？' {
			end = i + len(string(r))
			break
		}
	}
	sentence := strings.TrimSpace(text[:end])

	if len(sentence) > maxLen {
		cut := sentence[:maxLen]
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		sentence = cut + "…"
	}
	return sentence
}
