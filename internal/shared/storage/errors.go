// Package storage 持久化层哨兵错误
//
// repository 只返回这两类可识别错误，驱动相关的错误原样包装向上传递；
// 写协调器在 classifyDBError 中把它们映射为 dataerr 的领域错误。
package storage

import "errors"

var (
	// ErrNotFound 行不存在（例如账号没有对应的同步版本行）
	ErrNotFound = errors.New("storage: row not found")

	// ErrDuplicate 主键冲突（重复注册账号）
	ErrDuplicate = errors.New("storage: duplicate key")
)
