// Package repository 内容相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"accounts-syncd/internal/shared/model"
)

// SetSlotContent 写入槽位内容，已有内容时被替换
//
// 返回被替换的内容 ID，槽位原本为空时返回空字符串。
func (t *Tx) SetSlotContent(ctx context.Context, c *model.Content) (model.ContentID, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	var previous model.ContentID
	err := t.tx.QueryRowContext(ctx, t.rebind(`
		SELECT id FROM content WHERE account_id = $1 AND slot = $2
	`), c.AccountID, int(c.Slot)).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}

	query := t.rebind(`
		INSERT INTO content (id, account_id, slot, content_type, size, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	` + t.dialect.UpsertConflict("account_id, slot", []string{
		"id = EXCLUDED.id",
		"content_type = EXCLUDED.content_type",
		"size = EXCLUDED.size",
		"checksum = EXCLUDED.checksum",
		"created_at = EXCLUDED.created_at",
	}))
	if _, err := t.tx.ExecContext(ctx, query,
		c.ID, c.AccountID, int(c.Slot), c.Metadata.ContentType, c.Metadata.Size, c.Metadata.Checksum, c.CreatedAt); err != nil {
		return "", err
	}
	if previous == c.ID {
		previous = ""
	}
	return previous, nil
}

// GetContent 根据内容 ID 获取，不存在时返回 nil
func (s *Store) GetContent(ctx context.Context, id model.ContentID) (*model.Content, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, account_id, slot, content_type, size, checksum, created_at FROM content WHERE id = $1
	`), id)
	c, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListContent 列出账号各槽位的内容
func (s *Store) ListContent(ctx context.Context, account model.AccountID) ([]*model.Content, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, account_id, slot, content_type, size, checksum, created_at
		FROM content WHERE account_id = $1 ORDER BY slot ASC
	`), account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contents []*model.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*model.Content, error) {
	var (
		c        model.Content
		slot     int
		ctype    sql.NullString
		checksum sql.NullString
	)
	if err := row.Scan(&c.ID, &c.AccountID, &slot, &ctype, &c.Metadata.Size, &checksum, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Slot = model.Slot(slot)
	c.Metadata.ContentType = ctype.String
	c.Metadata.Checksum = checksum.String
	return &c, nil
}
