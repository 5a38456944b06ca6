// Package repository 数据库无关的持久化存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
//
// 写入只有一个入口：Store.Transaction，且只应由 writer.Coordinator 调用。
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"accounts-syncd/internal/shared/storage/dbutil"
)

// Store 通用存储实现
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// Ping 检查连接可用
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// Transaction 在单个事务中执行 fn
//
// fn 返回错误或 panic 时回滚；panic 会在回滚后继续向上传播。
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Tx 事务内的写操作集合
type Tx struct {
	tx      *sql.Tx
	dialect dbutil.Dialect
}

func (t *Tx) rebind(query string) string {
	return t.dialect.Rebind(query)
}
