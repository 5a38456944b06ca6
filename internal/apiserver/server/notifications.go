// Package server 通知接口
package server

import (
	"encoding/json"
	"net/http"

	"accounts-syncd/internal/shared/model"
)

// NotificationsRequest 发送/确认通知的请求体
type NotificationsRequest struct {
	Categories []string `json:"categories"`
}

// GetNotifications 待确认通知
//
// 路由: GET /api/v1/accounts/{id}/notifications
//
// 响应:
//
//	{"categories": ["new_message", "sync_reset"]}
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	flags, err := h.core.PendingNotifications(model.AccountID(r.PathValue("id")))
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	names := flags.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": names})
}

// SendNotification 发送通知
//
// 路由: POST /api/v1/accounts/{id}/notifications
//
// 通知先记录为待确认，再尽力实时投递；客户端离线时交给推送中继。
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	flags, ok := decodeFlags(w, r)
	if !ok {
		return
	}
	if err := h.core.Notify(model.AccountID(r.PathValue("id")), flags); err != nil {
		h.writeDataError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AckNotifications 确认通知
//
// 路由: POST /api/v1/accounts/{id}/notifications/ack
//
// 只清除请求中列出的分类，确认期间新到达的其它分类保持待确认。
func (h *Handler) AckNotifications(w http.ResponseWriter, r *http.Request) {
	flags, ok := decodeFlags(w, r)
	if !ok {
		return
	}
	if err := h.core.AckNotifications(model.AccountID(r.PathValue("id")), flags); err != nil {
		h.writeDataError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeFlags(w http.ResponseWriter, r *http.Request) (model.NotificationFlags, bool) {
	var req NotificationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return 0, false
	}
	flags := model.ParseNotificationFlags(req.Categories)
	if flags.Empty() {
		writeError(w, http.StatusBadRequest, "no known categories")
		return 0, false
	}
	return flags, true
}
