package queue

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"

	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/shared/model"
)

// EventSender 状态变化事件的投递端
type EventSender interface {
	SendConnectedEvent(account model.AccountID, event model.EventToClient) bool
}

type pendingEvent struct {
	account model.AccountID
	event   model.EventToClient
}

// Queue 有序的内容处理队列
//
// order 中的每个键在 jobs 中都有状态为 InQueue 的条目，且 index+1 == Position。
// 终态条目保留在 jobs 中供轮询，直到同一槽位再次提交。
// 事件在释放锁之后发送。
type Queue struct {
	mu     sync.Mutex
	order  []Key
	jobs   map[Key]*Job
	closed bool

	notify chan struct{} // 容量 1 的唤醒许可
	done   chan struct{}

	events  EventSender
	metrics *metrics.Metrics
}

// New 创建处理队列
func New(events EventSender, m *metrics.Metrics) *Queue {
	return &Queue{
		jobs:    make(map[Key]*Job),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		events:  events,
		metrics: m,
	}
}

// QueueNewContent 提交内容
//
// 同一槽位仍在排队时原地替换负载和处理 ID，沿用原位置；否则追加到队尾。
// 每次调用唤醒一个等待中的 worker。
func (q *Queue) QueueNewContent(owner model.AccountID, slot model.Slot, tempFile string, params Params) (uuid.UUID, error) {
	if !slot.Valid() {
		return uuid.Nil, ErrInvalidSlot
	}
	key := Key{Account: owner, Slot: slot}
	id := uuid.New()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueClosed
	}

	var replaced string
	job, ok := q.jobs[key]
	if ok && job.State.Kind == StateInQueue {
		replaced = job.TempFile
		job.ProcessingID = id
		job.TempFile = tempFile
		job.Params = params
	} else {
		q.order = append(q.order, key)
		job = &Job{
			ProcessingID: id,
			Key:          key,
			State:        State{Kind: StateInQueue, Position: len(q.order)},
			TempFile:     tempFile,
			Params:       params,
		}
		q.jobs[key] = job
	}
	ev := pendingEvent{account: owner, event: stateEvent(key, id, job.State)}
	length := len(q.order)
	q.mu.Unlock()

	if replaced != "" && replaced != tempFile {
		os.Remove(replaced)
	}
	q.metrics.SetQueueLength(length)
	q.send(ev)
	q.wake()
	return id, nil
}

// PopFromQueue 取出队首任务并将其标记为 Processing
//
// 其余排队任务重新编号，位置发生变化的任务各发送一个事件。
func (q *Queue) PopFromQueue() (*Job, bool) {
	q.mu.Lock()
	if q.closed || len(q.order) == 0 {
		q.mu.Unlock()
		return nil, false
	}

	key := q.order[0]
	q.order[0] = Key{}
	q.order = q.order[1:]

	var events []pendingEvent
	for i, k := range q.order {
		j := q.jobs[k]
		if pos := i + 1; j.State.Position != pos {
			j.State.Position = pos
			events = append(events, pendingEvent{account: k.Account, event: stateEvent(k, j.ProcessingID, j.State)})
		}
	}

	job := q.jobs[key]
	job.State = State{Kind: StateProcessing}
	events = append(events, pendingEvent{account: key.Account, event: stateEvent(key, job.ProcessingID, job.State)})
	popped := *job
	length := len(q.order)
	q.mu.Unlock()

	q.metrics.SetQueueLength(length)
	q.send(events...)
	if length > 0 {
		// 还有排队任务时把许可传给下一个空闲 worker
		q.wake()
	}
	return &popped, true
}

// GetState 查询槽位的处理状态，没有记录时为 Empty
//
// 返回的状态带有最近一次提交的处理 ID，重复提交后反映新的提交。
func (q *Queue) GetState(owner model.AccountID, slot model.Slot) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[Key{Account: owner, Slot: slot}]
	if !ok {
		return State{Kind: StateEmpty}
	}
	s := job.State
	s.ProcessingID = job.ProcessingID
	return s
}

// Complete 将处理中的任务标记为完成；processingID 已过期时忽略并返回 false
func (q *Queue) Complete(key Key, processingID uuid.UUID, contentID model.ContentID, metadata model.ContentMetadata) bool {
	md := metadata
	return q.finish(key, processingID, State{Kind: StateCompleted, ContentID: contentID, Metadata: &md})
}

// Fail 将处理中的任务标记为失败；不会自动重试
func (q *Queue) Fail(key Key, processingID uuid.UUID) bool {
	return q.finish(key, processingID, State{Kind: StateFailed})
}

func (q *Queue) finish(key Key, processingID uuid.UUID, s State) bool {
	q.mu.Lock()
	job, ok := q.jobs[key]
	if !ok || job.ProcessingID != processingID || job.State.Kind != StateProcessing {
		q.mu.Unlock()
		return false
	}
	job.State = s
	job.TempFile = ""
	ev := pendingEvent{account: key.Account, event: stateEvent(key, processingID, s)}
	q.mu.Unlock()

	q.metrics.ProcessingResult(s.Kind.String())
	q.send(ev)
	return true
}

// Len 排队中的任务数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Wait 等待唤醒许可；队列关闭时返回 ErrQueueClosed
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-q.notify:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务并唤醒所有 worker，排队中任务的临时文件被删除
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var files []string
	for _, k := range q.order {
		if f := q.jobs[k].TempFile; f != "" {
			files = append(files, f)
		}
	}
	close(q.done)
	q.mu.Unlock()

	for _, f := range files {
		os.Remove(f)
	}
}

// wake 发放一个唤醒许可；已有未消费的许可时不重复发放
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) send(events ...pendingEvent) {
	if q.events == nil {
		return
	}
	for _, ev := range events {
		q.events.SendConnectedEvent(ev.account, ev.event)
	}
}
