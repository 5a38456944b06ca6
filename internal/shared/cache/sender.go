package cache

import (
	"sync/atomic"

	"accounts-syncd/internal/shared/model"
)

var senderSeq atomic.Uint64

// EventSender 账号实时连接的发送端
//
// TrySend 与 Close 只能在 Cache.Write 闭包内调用，由账号锁保证互斥，
// 因此不会出现向已关闭通道发送。
type EventSender struct {
	id     uint64
	ch     chan model.InternalEvent
	closed bool
}

// NewEventSender 创建发送端，capacity <= 0 时使用默认容量
func NewEventSender(capacity int) *EventSender {
	if capacity <= 0 {
		capacity = model.EventChannelCapacity
	}
	return &EventSender{
		id: senderSeq.Add(1),
		ch: make(chan model.InternalEvent, capacity),
	}
}

// ID 发送端唯一标识，用于断开时确认仍是当前连接
func (s *EventSender) ID() uint64 {
	return s.id
}

// Events 接收端
func (s *EventSender) Events() <-chan model.InternalEvent {
	return s.ch
}

// TrySend 非阻塞发送；通道已关闭或已满时返回 false
func (s *EventSender) TrySend(ev model.InternalEvent) bool {
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close 关闭通道，可重复调用
func (s *EventSender) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
