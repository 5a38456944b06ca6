// Package server 路由配置与中间件
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"accounts-syncd/pkg/logging"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET  /health
//   - GET  /metrics
//
// 账号与同步:
//   - POST /api/v1/accounts                               - 创建账号
//   - GET  /api/v1/accounts/{id}/profile                  - 读取资料
//   - PUT  /api/v1/accounts/{id}/profile                  - 更新资料
//   - GET  /api/v1/accounts/{id}/sync/{category}          - 同步检查（?version=N）
//   - POST /api/v1/accounts/{id}/sync/{category}/bump     - 递增分类版本
//
// 内容:
//   - POST /api/v1/accounts/{id}/content/{slot}           - 上传内容
//   - GET  /api/v1/accounts/{id}/content/{slot}           - 下载当前内容
//   - GET  /api/v1/accounts/{id}/content/{slot}/state     - 处理状态
//
// 通知:
//   - GET  /api/v1/accounts/{id}/notifications            - 待确认通知
//   - POST /api/v1/accounts/{id}/notifications            - 发送通知
//   - POST /api/v1/accounts/{id}/notifications/ack        - 确认通知
//
// WebSocket:
//   - GET  /ws/accounts/{id}/events                       - 实时事件
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	mux.HandleFunc("POST /api/v1/accounts", h.RegisterAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}/profile", h.GetProfile)
	mux.HandleFunc("PUT /api/v1/accounts/{id}/profile", h.UpdateProfile)
	mux.HandleFunc("GET /api/v1/accounts/{id}/sync/{category}", h.CheckSync)
	mux.HandleFunc("POST /api/v1/accounts/{id}/sync/{category}/bump", h.BumpSyncVersion)

	mux.HandleFunc("POST /api/v1/accounts/{id}/content/{slot}", h.SubmitContent)
	mux.HandleFunc("GET /api/v1/accounts/{id}/content/{slot}", h.GetContent)
	mux.HandleFunc("GET /api/v1/accounts/{id}/content/{slot}/state", h.GetContentState)

	mux.HandleFunc("GET /api/v1/accounts/{id}/notifications", h.GetNotifications)
	mux.HandleFunc("POST /api/v1/accounts/{id}/notifications", h.SendNotification)
	mux.HandleFunc("POST /api/v1/accounts/{id}/notifications/ack", h.AckNotifications)

	apiHandler := corsMiddleware(h.metricsMiddleware(mux))

	// WebSocket 绕过中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/accounts/{id}/events", h.HandleWebSocket)
	topMux.Handle("/", apiHandler)
	return topMux
}

// metricsMiddleware 记录请求指标和访问日志
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		r = r.WithContext(context.WithValue(r.Context(), logging.TraceIDKey, reqID))
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		// ServeMux 匹配后会把路由模式写回请求，用它做标签避免高基数
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		h.metrics.ObserveHTTP(r.Method, pattern, wrapped.statusCode, duration)
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			h.logger.WithContext(r.Context()).HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, duration, r.RemoteAddr)
		}
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
