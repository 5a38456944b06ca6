// Package model 定义核心数据模型
//
// event.go 包含推送给客户端的事件模型：
//   - EventType：事件类型
//   - EventToClient：刷新提示事件
//   - NotificationFlags：待确认通知位图
//   - InternalEvent：连接通道上承载的内部事件
package model

import (
	"strings"
	"time"
)

// ============================================================================
// EventType - 事件类型
// ============================================================================

// EventType 客户端事件类型
type EventType string

const (
	// EventTypeContentProcessingStateChanged 内容处理状态（排队位置/处理中/完成/失败）变化
	EventTypeContentProcessingStateChanged EventType = "content_processing_state_changed"

	// EventTypeProfileChanged 资料变化，客户端应重新拉取
	EventTypeProfileChanged EventType = "profile_changed"

	// EventTypeMediaChanged 媒体内容变化
	EventTypeMediaChanged EventType = "media_changed"

	// EventTypeChatChanged 聊天状态变化
	EventTypeChatChanged EventType = "chat_changed"

	// EventTypeSyncVersionReset 同步版本回绕，客户端必须全量同步
	EventTypeSyncVersionReset EventType = "sync_version_reset"

	// EventTypeNotification 通知类事件（携带 NotificationFlags）
	EventTypeNotification EventType = "notification"
)

// EventToClient 发送给客户端的刷新提示
//
// 该类事件允许在背压或断线时丢弃，客户端总能重新拉取权威状态。
type EventToClient struct {
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventToClient 创建事件
func NewEventToClient(t EventType, data map[string]interface{}) EventToClient {
	return EventToClient{Type: t, Data: data, Timestamp: time.Now()}
}

// ============================================================================
// NotificationFlags - 待确认通知位图
// ============================================================================

// NotificationFlags 每个通知分类占一位
//
// 生产方只做 OR，消费方确认后只做 AND-NOT。
type NotificationFlags uint32

const (
	NotificationNewMessage NotificationFlags = 1 << iota
	NotificationReceivedLike
	NotificationContentProcessed
	NotificationSyncReset
	NotificationAdminMessage

	// NotificationAll 所有已定义的分类
	NotificationAll = NotificationNewMessage | NotificationReceivedLike |
		NotificationContentProcessed | NotificationSyncReset | NotificationAdminMessage
)

var notificationNames = []struct {
	flag NotificationFlags
	name string
}{
	{NotificationNewMessage, "new_message"},
	{NotificationReceivedLike, "received_like"},
	{NotificationContentProcessed, "content_processed"},
	{NotificationSyncReset, "sync_reset"},
	{NotificationAdminMessage, "admin_message"},
}

// Has 是否包含全部给定位
func (f NotificationFlags) Has(other NotificationFlags) bool {
	return f&other == other
}

// Empty 是否没有任何位
func (f NotificationFlags) Empty() bool {
	return f == 0
}

// Names 返回已设置分类的名称
func (f NotificationFlags) Names() []string {
	var names []string
	for _, n := range notificationNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

func (f NotificationFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// ParseNotificationFlags 从分类名列表解析位图，未知名称被忽略
func ParseNotificationFlags(names []string) NotificationFlags {
	var f NotificationFlags
	for _, name := range names {
		for _, n := range notificationNames {
			if n.name == name {
				f |= n.flag
			}
		}
	}
	return f
}

// ============================================================================
// InternalEvent - 连接通道事件
// ============================================================================

// InternalEventKind 内部事件类别
type InternalEventKind int

const (
	// InternalEventNormal 普通刷新提示
	InternalEventNormal InternalEventKind = iota
	// InternalEventNotification 通知（已记录到待确认位图）
	InternalEventNotification
)

// EventChannelCapacity 每个连接的事件通道容量
const EventChannelCapacity = 10

// InternalEvent 每个连接的有界通道上传递的事件
type InternalEvent struct {
	Kind     InternalEventKind
	Event    EventToClient
	Category NotificationFlags
}
