// Package repository Account 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/storage"
	"accounts-syncd/internal/shared/syncversion"
)

// === 事务内写操作 ===

// CreateAccount 创建账号，同时初始化资料和每个分类的同步版本
func (t *Tx) CreateAccount(ctx context.Context, account *model.Account) error {
	var exists int
	err := t.tx.QueryRowContext(ctx, t.rebind(`SELECT 1 FROM accounts WHERE id = $1`), account.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: account %s", storage.ErrDuplicate, account.ID)
	}
	if err != sql.ErrNoRows {
		return err
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	if _, err := t.tx.ExecContext(ctx, t.rebind(`INSERT INTO accounts (id, created_at) VALUES ($1, $2)`),
		account.ID, account.CreatedAt); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, t.rebind(`
		INSERT INTO profiles (account_id, name, text, visible, updated_at)
		VALUES ($1, '', '', $2, $3)
	`), account.ID, false, account.CreatedAt); err != nil {
		return err
	}

	for _, c := range syncversion.Categories() {
		if _, err := t.tx.ExecContext(ctx, t.rebind(`
			INSERT INTO sync_versions (account_id, category, version) VALUES ($1, $2, 0)
		`), account.ID, string(c)); err != nil {
			return err
		}
	}
	return nil
}

// === 读操作 ===

// GetAccount 获取账号
func (s *Store) GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	account := &model.Account{}
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, created_at FROM accounts WHERE id = $1`), id).
		Scan(&account.ID, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

// ListAccounts 列出所有账号（启动时用于重建缓存）
func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at FROM accounts ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account := &model.Account{}
		if err := rows.Scan(&account.ID, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
