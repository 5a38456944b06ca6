// Package server 账号同步服务的 HTTP/WebSocket 接口
//
// 本包只做协议转换，所有数据访问都通过 syncd.Core：
//   - 同步检查与版本递增
//   - 资料读写
//   - 内容上传与处理状态
//   - 待确认通知
//   - WebSocket 实时事件
//
// 文件组织：
//   - common.go: Handler 定义、响应工具函数、错误映射
//   - handler.go: 路由与中间件
//   - accounts.go: 账号、资料与同步接口
//   - content.go: 内容接口
//   - notifications.go: 通知接口
//   - websocket.go: WebSocket 事件推送
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/syncd"
	"accounts-syncd/pkg/logging"
)

// Handler API 处理器
type Handler struct {
	core    *syncd.Core
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(core *syncd.Core, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default("api")
	}
	return &Handler{
		core:    core,
		metrics: core.Metrics(),
		logger:  logger,
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDataError 将领域错误映射为 HTTP 响应
//
// 预期错误返回可区分的状态码和错误码；其它错误只记录日志，客户端看到通用失败。
func (h *Handler) writeDataError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).WithError(err).Error("Request failed", "method", r.Method, "path", r.URL.Path)
	}
	writeError(w, status, code)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dataerr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dataerr.ErrFeatureDisabled):
		return http.StatusForbidden, "feature_disabled"
	case errors.Is(err, dataerr.ErrNotAllowed):
		return http.StatusConflict, "not_allowed"
	case errors.Is(err, dataerr.ErrServerClosingInProgress):
		return http.StatusServiceUnavailable, "server_closing"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.core.Writer().Quit().Closing() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "closing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
