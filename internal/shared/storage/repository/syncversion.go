// Package repository 同步版本号的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/storage"
	"accounts-syncd/internal/shared/syncversion"
)

// IncrementSyncVersion 在事务内递增指定分类的版本号
//
// 返回值中的 Wrapped 表示发生了 255 → 0 回绕，调用方必须在同一次写操作中下发强制全量同步。
func (t *Tx) IncrementSyncVersion(ctx context.Context, id model.AccountID, c syncversion.Category) (syncversion.Increment, error) {
	var current int
	err := t.tx.QueryRowContext(ctx, t.rebind(`
		SELECT version FROM sync_versions WHERE account_id = $1 AND category = $2
	`), id, string(c)).Scan(&current)
	if err == sql.ErrNoRows {
		return syncversion.Increment{}, fmt.Errorf("%w: sync version %s/%s", storage.ErrNotFound, id, c)
	}
	if err != nil {
		return syncversion.Increment{}, err
	}

	inc := syncversion.New(current).Increment()
	if _, err := t.tx.ExecContext(ctx, t.rebind(`
		UPDATE sync_versions SET version = $1 WHERE account_id = $2 AND category = $3
	`), inc.Version.Int(), id, string(c)); err != nil {
		return syncversion.Increment{}, err
	}
	return inc, nil
}

// GetSyncVersion 读取指定分类的持久化版本号
func (s *Store) GetSyncVersion(ctx context.Context, id model.AccountID, c syncversion.Category) (syncversion.SyncVersion, error) {
	var v int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT version FROM sync_versions WHERE account_id = $1 AND category = $2
	`), id, string(c)).Scan(&v)
	if err == sql.ErrNoRows {
		return syncversion.SyncVersion{}, fmt.Errorf("%w: sync version %s/%s", storage.ErrNotFound, id, c)
	}
	if err != nil {
		return syncversion.SyncVersion{}, err
	}
	return syncversion.New(v), nil
}

// ListSyncVersions 读取账号所有分类的版本号
func (s *Store) ListSyncVersions(ctx context.Context, id model.AccountID) (map[syncversion.Category]syncversion.SyncVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT category, version FROM sync_versions WHERE account_id = $1
	`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[syncversion.Category]syncversion.SyncVersion)
	for rows.Next() {
		var (
			category string
			v        int
		)
		if err := rows.Scan(&category, &v); err != nil {
			return nil, err
		}
		versions[syncversion.Category(category)] = syncversion.New(v)
	}
	return versions, rows.Err()
}
