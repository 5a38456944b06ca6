// Package dataerr 定义数据一致性层的领域错误
//
// 内部存储/缓存失败会附带操作名与账号上下文向上传递，
// API 层将非预期错误映射为不透明的通用失败，预期错误映射为客户端可区分的响应。
package dataerr

import (
	"errors"
	"fmt"

	"accounts-syncd/internal/shared/model"
)

var (
	// ErrEventModeAccessFailed 访问账号事件通道失败
	ErrEventModeAccessFailed = errors.New("event mode access failed")

	// ErrCommandResultReceivingFailed 写操作任务异常退出，未能取得结果
	ErrCommandResultReceivingFailed = errors.New("command result receiving failed")

	// ErrServerClosingInProgress 服务正在关闭，拒绝新的写操作
	ErrServerClosingInProgress = errors.New("server closing in progress")

	// ErrNotFound 目标不存在
	ErrNotFound = errors.New("not found")

	// ErrNotAllowed 操作不被允许
	ErrNotAllowed = errors.New("not allowed")

	// ErrFeatureDisabled 对应功能在配置中被关闭
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrDatabase 持久化存储失败
	ErrDatabase = errors.New("database error")

	// ErrCache 缓存访问失败
	ErrCache = errors.New("cache error")
)

// OpError 带操作上下文的错误
type OpError struct {
	Op      string
	Account model.AccountID
	Err     error
}

func (e *OpError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s (account=%s): %v", e.Op, e.Account, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap 为错误附加操作名和账号上下文；err 为 nil 时返回 nil
func Wrap(err error, op string, account model.AccountID) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Account: account, Err: err}
}

// Expected 是否为客户端可处理的预期错误
func Expected(err error) bool {
	return errors.Is(err, ErrFeatureDisabled) ||
		errors.Is(err, ErrNotAllowed) ||
		errors.Is(err, ErrServerClosingInProgress) ||
		errors.Is(err, ErrNotFound)
}
