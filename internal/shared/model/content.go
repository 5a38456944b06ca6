// Package model 内容相关模型
package model

import (
	"fmt"
	"time"
)

// MaxContentSlots 每个账号可上传的内容槽位数量
const MaxContentSlots = 7

// ContentID 处理完成后的内容标识
type ContentID string

// Slot 内容槽位
type Slot int

// Valid 槽位是否在允许范围内
func (s Slot) Valid() bool {
	return s >= 0 && s < MaxContentSlots
}

func (s Slot) String() string {
	return fmt.Sprintf("slot-%d", int(s))
}

// ContentMetadata 处理结果元数据
type ContentMetadata struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum,omitempty"`
}

// Content 处理完成并持久化的内容记录
type Content struct {
	ID        ContentID       `json:"id" db:"id"`
	AccountID AccountID       `json:"account_id" db:"account_id"`
	Slot      Slot            `json:"slot" db:"slot"`
	Metadata  ContentMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
