package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/testutil"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// =============================================================================
// 🧪 EventsHandler 测试
// =============================================================================

// dialEvents 建立到事件流的 WebSocket 连接并等待订阅注册完成。
// 握手返回早于处理器的 Subscribe 调用，不等会漏掉紧随其后的事件
func dialEvents(t *testing.T, stack *testutil.MemoryStack, srvURL, query string) *websocket.Conn {
	t.Helper()

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, strings.Replace(srvURL, "http", "ws", 1)+query, nil)
	require.NoError(t, err)

	testutil.AssertEventuallyTrue(t, func() bool {
		return stack.Service.Subscribers() == 1
	}, 2*time.Second)
	return conn
}

// readEvent 读取并解析下一条事件帧
func readEvent(t *testing.T, conn *websocket.Conn) api.Event {
	t.Helper()

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return testutil.MustParseJSON[api.Event](string(data))
}

func TestEventsHandler_StreamsRecordLifecycle(t *testing.T) {
	stack := testutil.NewMemoryStack(t)
	h := NewEventsHandler(stack.Service, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleEvents))
	defer srv.Close()

	conn := dialEvents(t, stack, srv.URL, "")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := testutil.TestContext(t)
	res, err := stack.Service.Ingest(ctx, memory.IngestRequest{
		Namespace: "agents",
		Text:      "an event worth broadcasting",
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	recordID := res.Records[0].ID

	created := readEvent(t, conn)
	assert.Equal(t, string(types.EventRecordCreated), created.Type)
	assert.Equal(t, "agents", created.Namespace)
	assert.Equal(t, recordID, created.RecordID)
	assert.Equal(t, string(types.LayerSemantic), created.Layer)
	assert.False(t, created.Timestamp.IsZero())

	// 重复写入推送去重事件，指向既有记录
	dup, err := stack.Service.Ingest(ctx, memory.IngestRequest{
		Namespace: "agents",
		Text:      "an event worth broadcasting",
	})
	require.NoError(t, err)
	require.True(t, dup.Deduplicated)

	deduped := readEvent(t, conn)
	assert.Equal(t, string(types.EventRecordDeduplicated), deduped.Type)
	assert.Equal(t, recordID, deduped.RecordID)

	deleted, err := stack.Service.Delete(ctx, "agents", recordID)
	require.NoError(t, err)
	require.True(t, deleted)

	gone := readEvent(t, conn)
	assert.Equal(t, string(types.EventRecordDeleted), gone.Type)
	assert.Equal(t, recordID, gone.RecordID)
}

func TestEventsHandler_NamespaceFilter(t *testing.T) {
	stack := testutil.NewMemoryStack(t)
	h := NewEventsHandler(stack.Service, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleEvents))
	defer srv.Close()

	conn := dialEvents(t, stack, srv.URL, "?namespace=watched")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := testutil.TestContext(t)
	_, err := stack.Service.Ingest(ctx, memory.IngestRequest{
		Namespace: "noise",
		Text:      "should never reach the subscriber",
	})
	require.NoError(t, err)

	want, err := stack.Service.Ingest(ctx, memory.IngestRequest{
		Namespace: "watched",
		Text:      "this one passes the filter",
	})
	require.NoError(t, err)

	evt := readEvent(t, conn)
	assert.Equal(t, "watched", evt.Namespace)
	assert.Equal(t, want.Records[0].ID, evt.RecordID)
}

func TestEventsHandler_SubscriberUnregistersOnClose(t *testing.T) {
	stack := testutil.NewMemoryStack(t)
	h := NewEventsHandler(stack.Service, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleEvents))
	defer srv.Close()

	conn := dialEvents(t, stack, srv.URL, "")
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	testutil.AssertEventuallyTrue(t, func() bool {
		return stack.Service.Subscribers() == 0
	}, 2*time.Second)
}

func TestEventsHandler_Validation(t *testing.T) {
	stack := testutil.NewMemoryStack(t)
	h := NewEventsHandler(stack.Service, zap.NewNop())

	w := doRequest(h.HandleEvents, http.MethodPost, "/v1/events")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doRequest(h.HandleEvents, http.MethodGet, "/v1/events?namespace=Not%20Valid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errInfo := decodeError(t, w)
	assert.Equal(t, string(types.ErrInvalidRequest), errInfo.Code)
}
