// Package server WebSocket 事件推送
//
// 每个账号同一时间只有一个实时连接，新连接会替换旧连接。
// 连接通道有界，背压时普通事件被丢弃；通知已记录为待确认，不会丢失。
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/model"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage 推送给客户端的消息
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsClientMessage 客户端消息
type wsClientMessage struct {
	Type       string   `json:"type"` // ping 或 ack
	Categories []string `json:"categories,omitempty"`
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/accounts/{id}/events
//
// 推送消息格式：
//
//	刷新提示：{"type": "event", "data": {"type": "profile_changed", ...}}
//	通知：    {"type": "notification", "data": {"type": "notification", "data": {"categories": [...]}}}
//	被替换：  {"type": "replaced"}
//
// 连接建立后先推送一次当前待确认通知。
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
//	确认：{"type": "ack", "categories": ["new_message"]}
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	account := model.AccountID(r.PathValue("id"))
	sub, err := h.core.Connect(account)
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.metrics.WSConnected(1)
	defer h.metrics.WSConnected(-1)
	log.Printf("[WebSocket] Client connected for account %s", account)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go h.readPump(conn, account, pongs, cancel)
	h.writePump(ctx, conn, sub, pongs)
}

// readPump 读取客户端消息，连接关闭时取消上下文
//
// 所有写操作由 writePump 完成，这里只通过 pongs 请求回复。
func (h *Handler) readPump(conn *websocket.Conn, account model.AccountID, pongs chan<- struct{}, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var req wsClientMessage
		if json.Unmarshal(msg, &req) != nil {
			continue
		}
		switch req.Type {
		case "ping":
			select {
			case pongs <- struct{}{}:
			default:
			}
		case "ack":
			flags := model.ParseNotificationFlags(req.Categories)
			if err := h.core.AckNotifications(account, flags); err != nil {
				h.logger.WithAccountID(account.String()).WithError(err).Warn("WebSocket ack failed")
			}
		}
	}
}

// writePump 向客户端推送事件和心跳
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub *eventbus.Subscription, pongs <-chan struct{}) {
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	write := func(msg wsMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[WebSocket] Write error: %v", err)
			return false
		}
		return true
	}

	if flags, err := h.core.PendingNotifications(sub.Account()); err == nil && !flags.Empty() {
		ev := model.NewEventToClient(model.EventTypeNotification, map[string]interface{}{"categories": flags.Names()})
		if !write(wsMessage{Type: "notification", Data: ev}) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-pongs:
			if !write(wsMessage{Type: "pong"}) {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				// 同一账号建立了新连接
				write(wsMessage{Type: "replaced"})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			msgType := "event"
			if ev.Kind == model.InternalEventNotification {
				msgType = "notification"
			}
			if !write(wsMessage{Type: msgType, Data: ev.Event}) {
				return
			}
		}
	}
}
