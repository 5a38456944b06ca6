// Package model 定义核心数据模型
//
// account.go 包含账号相关的数据模型定义：
//   - AccountID：账号标识，本层所有按账号划分的状态都以它为键
//   - Account：账号持久化记录
//   - Profile：账号资料（缓存与持久化两侧同时存在）
package model

import (
	"strings"
	"time"
)

// ============================================================================
// AccountID - 账号标识
// ============================================================================

// AccountID 不透明的稳定账号标识
type AccountID string

// String 返回字符串形式
func (id AccountID) String() string {
	return string(id)
}

// Valid 标识是否非空
func (id AccountID) Valid() bool {
	return strings.TrimSpace(string(id)) != ""
}

// ============================================================================
// Account - 账号
// ============================================================================

// Account 账号持久化记录
type Account struct {
	ID        AccountID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ============================================================================
// Profile - 账号资料
// ============================================================================

// Profile 账号资料
//
// 同时存在于缓存和持久化存储中，只能在事务提交后更新缓存。
type Profile struct {
	AccountID AccountID `json:"account_id" db:"account_id"`
	Name      string    `json:"name" db:"name"`
	Text      string    `json:"text" db:"text"`
	Visible   bool      `json:"visible" db:"visible"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
