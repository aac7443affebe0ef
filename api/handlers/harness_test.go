package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brooksjoey/MnemosyneOS/api"
)

// =============================================================================
// 🧪 处理器测试基座
// =============================================================================
// 处理器测试跑在真实引擎上（testutil.NewMemoryStack），
// 不模拟记忆服务；这里只提供请求构造与信封解析的快捷方式.
// =============================================================================

// doJSON 构造带 JSON 体的请求并直接调用处理器
func doJSON(h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		panic(err)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

// doRequest 构造无体请求并直接调用处理器
func doRequest(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

// decodeSuccess 断言成功信封并把 data 反序列化为目标类型
func decodeSuccess[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var resp api.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	require.True(t, resp.Success, "expected success envelope, got: %s", w.Body.String())

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// decodeError 断言错误信封并返回错误信息
func decodeError(t *testing.T, w *httptest.ResponseRecorder) *api.ErrorInfo {
	t.Helper()

	var resp api.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	require.False(t, resp.Success, "expected error envelope, got: %s", w.Body.String())
	require.NotNil(t, resp.Error)
	return resp.Error
}

// mustIngest 经处理器写入一条记忆并返回写入结果
func mustIngest(t *testing.T, h *MemoryHandler, namespace, text string) api.IngestResponse {
	t.Helper()

	w := doJSON(h.HandleIngest, http.MethodPost, "/v1/memories", api.IngestRequest{
		Namespace: namespace,
		Text:      text,
	})
	require.Equal(t, http.StatusOK, w.Code, "ingest failed: %s", w.Body.String())
	return decodeSuccess[api.IngestResponse](t, w)
}
