package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/llm/retry"
	"github.com/brooksjoey/MnemosyneOS/types"
)

func testSources() []SummarizeSource {
	return []SummarizeSource{
		{ID: "r1", Layer: "episodic", Text: "Deployed the new release to staging. No errors in the first hour.", CreatedAt: "2026-05-01T10:00:00Z"},
		{ID: "r2", Layer: "episodic", Text: "Latency spiked after the cache flush. Rolled back the config change.", CreatedAt: "2026-05-01T11:00:00Z"},
		{ID: "r3", Layer: "semantic", Text: "Cache flushes during peak hours degrade tail latency.", CreatedAt: "2026-05-01T12:00:00Z"},
	}
}

// ====== 抽取式摘要器 ======

func TestExtractiveSummarizer_Summarize(t *testing.T) {
	s := NewExtractiveSummarizer(zap.NewNop())
	assert.Equal(t, "extractive", s.Name())

	req := &SummarizeRequest{Namespace: "agents", Sources: testSources(), MaxBlocks: 3}
	out, err := s.Summarize(context.Background(), req)
	require.NoError(t, err)

	// 输出符合反思块格式
	assert.Contains(t, out, "REFLECTION:")
	assert.Contains(t, out, "EVIDENCE:")
	assert.Contains(t, out, "IMPLICATIONS:")
	assert.Contains(t, out, "TAGS:")
	assert.Contains(t, out, "episodic")
	assert.Contains(t, out, "semantic")
	assert.Contains(t, out, "extractive")

	// 证据来自源记忆的首句
	assert.Contains(t, out, "Deployed the new release to staging.")
	assert.Contains(t, out, "Cache flushes during peak hours degrade tail latency.")

	// 相同输入产生相同输出
	again, err := s.Summarize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestExtractiveSummarizer_EmptySources(t *testing.T) {
	s := NewExtractiveSummarizer(zap.NewNop())

	_, err := s.Summarize(context.Background(), &SummarizeRequest{Namespace: "agents"})
	require.Error(t, err)

	_, err = s.Summarize(context.Background(), nil)
	require.Error(t, err)
}

func TestFirstSentence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"period", "First point. Second point.", 100, "First point."},
		{"newline", "headline\nbody text", 100, "headline"},
		{"question", "Did it work? Yes.", 100, "Did it work?"},
		{"no terminator", "just a fragment", 100, "just a fragment"},
		{"empty", "   ", 100, ""},
		{"cjk", "部署完成。后续观察。", 100, "部署完成。"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, firstSentence(tc.in, tc.max))
		})
	}

	// 超长句在词边界截断并标记省略
	long := strings.Repeat("word ", 100) + "end."
	got := firstSentence(long, 50)
	assert.LessOrEqual(t, len(got), 54)
	assert.True(t, strings.HasSuffix(got, "…"))
}

// ====== OpenAI 兼容摘要器 ======

func TestOpenAISummarizer_Summarize(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "REFLECTION:\ninsight\n\nTAGS:\nops"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	s := NewOpenAISummarizer(OpenAISummarizerConfig{
		APIKey:      "sk-test",
		BaseURL:     srv.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.4,
	}, zap.NewNop())
	assert.Equal(t, "openai/gpt-4o-mini", s.Name())

	out, err := s.Summarize(context.Background(), &SummarizeRequest{
		Namespace: "agents",
		Sources:   testSources(),
		MaxBlocks: 2,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "REFLECTION:")

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.InDelta(t, 0.4, gotReq.Temperature, 1e-9)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[0].Content, "1-2 thoughtful reflections")
	assert.Contains(t, gotReq.Messages[0].Content, "REFLECTION:")
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "Rolled back the config change.")
	assert.Contains(t, gotReq.Messages[1].Content, "2026-05-01T10:00:00Z")
}

func TestOpenAISummarizer_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	s := NewOpenAISummarizer(OpenAISummarizerConfig{
		BaseURL: srv.URL,
		Retry: &retry.RetryPolicy{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2.0,
			RetryIf:      types.IsRetryable,
		},
	}, zap.NewNop())

	out, err := s.Summarize(context.Background(), &SummarizeRequest{Sources: testSources()})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int64(2), calls.Load())
}

func TestOpenAISummarizer_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	t.Cleanup(srv.Close)

	s := NewOpenAISummarizer(OpenAISummarizerConfig{BaseURL: srv.URL, APIKey: "bad"}, zap.NewNop())

	_, err := s.Summarize(context.Background(), &SummarizeRequest{Sources: testSources()})
	require.Error(t, err)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestOpenAISummarizer_EmptySources(t *testing.T) {
	s := NewOpenAISummarizer(OpenAISummarizerConfig{BaseURL: "http://localhost:0"}, zap.NewNop())
	_, err := s.Summarize(context.Background(), &SummarizeRequest{})
	require.Error(t, err)
}

// ====== 工厂 ======

func TestNewSummarizerFromConfig(t *testing.T) {
	t.Run("extractive", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LLM.Provider = "extractive"

		s, err := NewSummarizerFromConfig(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &ExtractiveSummarizer{}, s)
	})

	t.Run("empty provider falls back to extractive", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LLM.Provider = ""

		s, err := NewSummarizerFromConfig(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &ExtractiveSummarizer{}, s)
	})

	t.Run("openai", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = "deepseek-chat"
		cfg.LLM.BaseURL = "https://api.deepseek.com"

		s, err := NewSummarizerFromConfig(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "openai/deepseek-chat", s.Name())
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LLM.Provider = "anthropic-native"

		_, err := NewSummarizerFromConfig(cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported llm provider")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewSummarizerFromConfig(nil, zap.NewNop())
		require.Error(t, err)
	})
}

func TestReflectionSystemPrompt(t *testing.T) {
	p := reflectionSystemPrompt(3)
	assert.Contains(t, p, "1-3 thoughtful reflections")
	assert.Contains(t, p, "REFLECTION:")
	assert.Contains(t, p, "EVIDENCE:")
	assert.Contains(t, p, "IMPLICATIONS:")
	assert.Contains(t, p, "TAGS:")
	assert.Contains(t, p, `"---"`)

	// 越界值收敛到 3
	assert.Contains(t, reflectionSystemPrompt(0), "1-3")
	assert.Contains(t, reflectionSystemPrompt(9), "1-3")
}
