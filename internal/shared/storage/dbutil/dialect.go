// Package dbutil 提供数据库方言抽象和工具函数
//
// 通过 Dialect 接口屏蔽 PostgreSQL 与 SQLite 的 SQL 差异，
// repository 层统一按 PostgreSQL 风格编写 SQL，运行时由 Dialect.Rebind() 转换。
package dbutil

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DriverType 数据库驱动类型
type DriverType string

const (
	DriverPostgres DriverType = "postgres"
	DriverSQLite   DriverType = "sqlite"
)

// ParseDriverType 解析驱动名，未知名称返回错误
func ParseDriverType(s string) (DriverType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", s)
	}
}

// Dialect 数据库方言接口
//
// 不同数据库的 SQL 语法差异通过该接口屏蔽：
//   - 占位符：PostgreSQL 用 $1, $2；SQLite 用 ?
//   - 时间函数：PostgreSQL 用 NOW()；SQLite 用 datetime('now')
//   - 类型转换：PostgreSQL 有 ::type 语法
type Dialect interface {
	// DriverType 返回驱动类型标识
	DriverType() DriverType

	// Rebind 将 PostgreSQL 风格的占位符 ($1, $2, ...) 转换为目标数据库的占位符格式
	Rebind(query string) string

	// CurrentTimestamp 返回当前时间戳的 SQL 表达式
	CurrentTimestamp() string

	// UpsertConflict 生成 UPSERT 的冲突处理子句
	// conflictColumns: 冲突检测列（逗号分隔）
	// updateExprs: 更新表达式列表，如 "name = EXCLUDED.name"
	UpsertConflict(conflictColumns string, updateExprs []string) string

	// AutoMigrate 自动创建/迁移数据库 Schema
	AutoMigrate(db *sql.DB) error
}

// pgPlaceholderRe 匹配 PostgreSQL 风格占位符 $1, $2, ...
var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// pgCastRe 匹配 PostgreSQL 类型转换 ::type
var pgCastRe = regexp.MustCompile(`::(\w+)`)

// RebindToQuestion 将 $N 占位符转换为 ?（SQLite 专用）
func RebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

// StripPgCasts 去除 PostgreSQL 类型转换 (::varchar, ::text 等)
func StripPgCasts(query string) string {
	return pgCastRe.ReplaceAllString(query, "")
}

// OnConflictDoUpdate 两种方言共用的 ON CONFLICT ... DO UPDATE 子句
func OnConflictDoUpdate(conflictColumns string, updateExprs []string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", conflictColumns, strings.Join(updateExprs, ", "))
}
