// Package server 账号、资料与同步接口
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/syncversion"
)

// RegisterAccountRequest 创建账号请求体
type RegisterAccountRequest struct {
	ID string `json:"id"`
}

// ProfileRequest 更新资料请求体
type ProfileRequest struct {
	Name    string `json:"name"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// ProfileResponse 资料响应
type ProfileResponse struct {
	Profile model.Profile `json:"profile"`
	Version int           `json:"version"`
}

// SyncCheckResponse 同步检查响应
type SyncCheckResponse struct {
	Category string `json:"category"`
	Result   string `json:"result"`
	Version  int    `json:"version"`
}

// RegisterAccount 创建账号
//
// 路由: POST /api/v1/accounts
//
// 响应:
//   - 201 Created: 返回账号
//   - 400 Bad Request: 请求体格式错误
//   - 409 Conflict: 账号已存在
func (h *Handler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := h.core.RegisterAccount(r.Context(), model.AccountID(req.ID))
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetProfile 读取资料
//
// 路由: GET /api/v1/accounts/{id}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, version, err := h.core.Profile(model.AccountID(r.PathValue("id")))
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profile, Version: version.Int()})
}

// UpdateProfile 更新资料
//
// 路由: PUT /api/v1/accounts/{id}/profile
//
// 成功后资料版本递增，在线客户端收到 profile_changed 事件。
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account := model.AccountID(r.PathValue("id"))
	profile := model.Profile{AccountID: account, Name: req.Name, Text: req.Text, Visible: req.Visible}
	version, err := h.core.UpdateProfile(r.Context(), profile)
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"version": version.Int()})
}

// CheckSync 同步检查
//
// 路由: GET /api/v1/accounts/{id}/sync/{category}?version=N
//
// 查询参数:
//   - version: 客户端最后已知版本；缺省或越界视为从未同步（255）
//
// 只读，不会修改服务端版本。
func (h *Handler) CheckSync(w http.ResponseWriter, r *http.Request) {
	category, err := syncversion.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	client := syncversion.NeverSynced
	if s := r.URL.Query().Get("version"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		client = syncversion.ClientVersion(v)
	}

	check, err := h.core.CheckSync(r.Context(), model.AccountID(r.PathValue("id")), category, client)
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncCheckResponse{
		Category: string(category),
		Result:   check.Result.String(),
		Version:  check.Version.Int(),
	})
}

// BumpSyncVersion 递增分类版本
//
// 路由: POST /api/v1/accounts/{id}/sync/{category}/bump
//
// 用于没有专门写接口的分类（如聊天）由其它服务通知状态变化。
func (h *Handler) BumpSyncVersion(w http.ResponseWriter, r *http.Request) {
	category, err := syncversion.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	inc, err := h.core.BumpSyncVersion(r.Context(), model.AccountID(r.PathValue("id")), category)
	if err != nil {
		h.writeDataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": inc.Version.Int(),
		"wrapped": inc.Wrapped,
	})
}
