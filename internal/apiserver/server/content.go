// Package server 内容接口
package server

import (
	"io"
	"net/http"
	"strconv"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/queue"
)

// ContentStateResponse 处理状态响应
type ContentStateResponse struct {
	State        string                 `json:"state"`
	ProcessingID string                 `json:"processing_id,omitempty"`
	Position     int                    `json:"position,omitempty"`
	ContentID    model.ContentID        `json:"content_id,omitempty"`
	Metadata     *model.ContentMetadata `json:"metadata,omitempty"`
}

func parseSlot(r *http.Request) (model.Slot, bool) {
	n, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		return 0, false
	}
	slot := model.Slot(n)
	return slot, slot.Valid()
}

// SubmitContent 上传内容
//
// 路由: POST /api/v1/accounts/{id}/content/{slot}
//
// 请求体为原始内容。响应 202 Accepted 和处理 ID，
// 处理进度通过 WebSocket 的 content_processing_state_changed 事件推送。
func (h *Handler) SubmitContent(w http.ResponseWriter, r *http.Request) {
	slot, ok := parseSlot(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	id, err := h.core.SubmitContent(r.Context(), model.AccountID(r.PathValue("id")), slot, r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"processing_id": id.String()})
}

// GetContentState 查询处理状态
//
// 路由: GET /api/v1/accounts/{id}/content/{slot}/state
func (h *Handler) GetContentState(w http.ResponseWriter, r *http.Request) {
	slot, ok := parseSlot(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	state := h.core.ContentState(model.AccountID(r.PathValue("id")), slot)
	resp := ContentStateResponse{State: state.Kind.String()}
	if state.Kind != queue.StateEmpty {
		resp.ProcessingID = state.ProcessingID.String()
	}
	switch state.Kind {
	case queue.StateInQueue:
		resp.Position = state.Position
	case queue.StateCompleted:
		resp.ContentID = state.ContentID
		resp.Metadata = state.Metadata
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetContent 下载槽位当前的内容
//
// 路由: GET /api/v1/accounts/{id}/content/{slot}
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	slot, ok := parseSlot(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	rc, content, err := h.core.OpenContent(r.Context(), model.AccountID(r.PathValue("id")), slot)
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	defer rc.Close()

	if content.Metadata.ContentType != "" {
		w.Header().Set("Content-Type", content.Metadata.ContentType)
	}
	if content.Metadata.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Metadata.Size, 10))
	}
	w.Header().Set("X-Content-ID", string(content.ID))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}
