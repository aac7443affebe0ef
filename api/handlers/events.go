package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/api"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// eventWriteTimeout 单条事件的写超时
const eventWriteTimeout = 5 * time.Second

// =============================================================================
// 📡 事件流 Handler
// =============================================================================

// EventsHandler 引擎事件的 WebSocket 推送处理器。
// 每个连接独立订阅广播器；慢连接由广播器丢弃事件，推送端永不阻塞
type EventsHandler struct {
	svc    *memory.Service
	logger *zap.Logger
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(svc *memory.Service, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{svc: svc, logger: logger}
}

// HandleEvents 处理事件流订阅请求
// @Summary 订阅引擎事件
// @Description 升级为 WebSocket 并推送记录写入、去重、删除与反思完成事件；
// @Description 带 namespace 查询参数时只推送该命名空间的事件
// @Tags 事件
// @Param namespace query string false "命名空间过滤（为空时推送全部）"
// @Success 101 {string} string "协议切换"
// @Failure 400 {object} api.Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	namespace := r.URL.Query().Get("namespace")
	if namespace != "" {
		if err := types.ValidateNamespace(namespace); err != nil {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept 已写出 HTTP 错误响应
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	events, cancel := h.svc.Subscribe()
	defer cancel()

	// 只写不读：CloseRead 负责消费控制帧，对端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Info("event subscriber connected",
		zap.String("namespace", namespace),
		zap.String("remote", r.RemoteAddr),
	)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case evt, ok := <-events:
			if !ok {
				// 服务关闭，广播器已断开
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if namespace != "" && evt.Namespace != namespace {
				continue
			}
			if err := h.writeEvent(ctx, conn, evt); err != nil {
				h.logger.Debug("event write failed, dropping subscriber",
					zap.String("remote", r.RemoteAddr),
					zap.Error(err))
				return
			}
		}
	}
}

// writeEvent 序列化并推送单条事件，带独立写超时
func (h *EventsHandler) writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(toAPIEvent(evt))
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// toAPIEvent 转换引擎事件为线上格式
func toAPIEvent(evt types.Event) api.Event {
	return api.Event{
		Type:      string(evt.Type),
		Namespace: evt.Namespace,
		RecordID:  evt.RecordID,
		Layer:     string(evt.Layer),
		Timestamp: evt.At,
	}
}
