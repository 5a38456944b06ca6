// Package repository Profile 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"accounts-syncd/internal/shared/model"
)

// UpsertProfile 写入账号资料
func (t *Tx) UpsertProfile(ctx context.Context, p *model.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	query := t.rebind(`
		INSERT INTO profiles (account_id, name, text, visible, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	` + t.dialect.UpsertConflict("account_id", []string{
		"name = EXCLUDED.name",
		"text = EXCLUDED.text",
		"visible = EXCLUDED.visible",
		"updated_at = EXCLUDED.updated_at",
	}))
	_, err := t.tx.ExecContext(ctx, query, p.AccountID, p.Name, p.Text, p.Visible, p.UpdatedAt)
	return err
}

// GetProfile 获取账号资料，不存在时返回 nil
func (s *Store) GetProfile(ctx context.Context, id model.AccountID) (*model.Profile, error) {
	p := &model.Profile{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT account_id, name, text, visible, updated_at FROM profiles WHERE account_id = $1
	`), id).Scan(&p.AccountID, &p.Name, &p.Text, &p.Visible, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}
