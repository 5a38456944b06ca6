package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts-syncd/internal/shared/model"
)

// recordingSender 记录发送的事件
type recordingSender struct {
	mu     sync.Mutex
	events []model.EventToClient
}

func (r *recordingSender) SendConnectedEvent(account model.AccountID, event model.EventToClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingSender) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Data["state"].(string))
	}
	return out
}

func assertPositions(t *testing.T, q *Queue) {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, k := range q.order {
		j, ok := q.jobs[k]
		require.True(t, ok, "queued key %v has no state", k)
		assert.Equal(t, StateInQueue, j.State.Kind)
		assert.Equal(t, i+1, j.State.Position, "key %v", k)
	}
}

func TestQueueNewContent_AppendsWithPosition(t *testing.T) {
	q := New(nil, nil)

	var last uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := q.QueueNewContent(model.AccountID("acc-"+string(rune('a'+i))), 0, "", Params{})
		require.NoError(t, err)
		last = id
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, State{Kind: StateInQueue, ProcessingID: last, Position: 3}, q.GetState("acc-c", 0))
	assertPositions(t, q)
}

func TestQueueNewContent_ReplacesQueuedSlot(t *testing.T) {
	q := New(nil, nil)

	_, err := q.QueueNewContent("acc-0", 1, "", Params{})
	require.NoError(t, err)
	first, err := q.QueueNewContent("acc-1", 0, "", Params{Size: 1})
	require.NoError(t, err)
	posAfterFirst := q.GetState("acc-1", 0).Position
	assert.Equal(t, first, q.GetState("acc-1", 0).ProcessingID)

	second, err := q.QueueNewContent("acc-1", 0, "", Params{Size: 2})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, posAfterFirst, q.GetState("acc-1", 0).Position)

	state := q.GetState("acc-1", 0)
	assert.Equal(t, StateInQueue, state.Kind)
	assert.Equal(t, second, state.ProcessingID)

	job, ok := q.PopFromQueue()
	require.True(t, ok)
	assert.Equal(t, model.AccountID("acc-0"), job.Key.Account)
	job, ok = q.PopFromQueue()
	require.True(t, ok)
	assert.Equal(t, second, job.ProcessingID)
	assert.Equal(t, int64(2), job.Params.Size)
}

func TestQueueNewContent_ReplaceRemovesOldTempFile(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old")
	newFile := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(oldFile, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(newFile, []byte("b"), 0644))

	q := New(nil, nil)
	_, err := q.QueueNewContent("acc-1", 0, oldFile, Params{})
	require.NoError(t, err)
	_, err = q.QueueNewContent("acc-1", 0, newFile, Params{})
	require.NoError(t, err)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}

func TestQueueNewContent_InvalidSlot(t *testing.T) {
	q := New(nil, nil)
	_, err := q.QueueNewContent("acc-1", model.MaxContentSlots, "", Params{})
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = q.QueueNewContent("acc-1", -1, "", Params{})
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestPopFromQueue_RenumbersAndEmits(t *testing.T) {
	sender := &recordingSender{}
	q := New(sender, nil)

	for _, acc := range []model.AccountID{"a", "b", "c", "d"} {
		_, err := q.QueueNewContent(acc, 0, "", Params{})
		require.NoError(t, err)
	}
	sender.reset()

	job, ok := q.PopFromQueue()
	require.True(t, ok)
	assert.Equal(t, model.AccountID("a"), job.Key.Account)
	assert.Equal(t, StateProcessing, job.State.Kind)
	assert.Equal(t, StateProcessing, q.GetState("a", 0).Kind)
	assertPositions(t, q)

	// b、c、d 各一个位置变化事件，最后是 a 进入 processing
	assert.Equal(t, []string{"in_queue", "in_queue", "in_queue", "processing"}, sender.states())
	assert.Equal(t, 1, q.GetState("b", 0).Position)
	assert.Equal(t, 3, q.GetState("d", 0).Position)

	for q.Len() > 0 {
		_, ok := q.PopFromQueue()
		require.True(t, ok)
		assertPositions(t, q)
	}
	_, ok = q.PopFromQueue()
	assert.False(t, ok)
}

func TestGetState_Empty(t *testing.T) {
	q := New(nil, nil)
	assert.Equal(t, StateEmpty, q.GetState("nobody", 3).Kind)
}

func TestCompleteAndFail(t *testing.T) {
	q := New(nil, nil)

	id, err := q.QueueNewContent("acc-1", 0, "", Params{})
	require.NoError(t, err)
	key := Key{Account: "acc-1", Slot: 0}

	// 未进入 processing 时不能完成
	assert.False(t, q.Complete(key, id, "c-1", model.ContentMetadata{}))

	job, ok := q.PopFromQueue()
	require.True(t, ok)

	// 过期的处理 ID 被忽略
	assert.False(t, q.Complete(key, uuid.New(), "c-x", model.ContentMetadata{}))
	assert.Equal(t, StateProcessing, q.GetState("acc-1", 0).Kind)

	require.True(t, q.Complete(key, job.ProcessingID, "c-1", model.ContentMetadata{ContentType: "image/png", Size: 3}))
	state := q.GetState("acc-1", 0)
	assert.Equal(t, StateCompleted, state.Kind)
	assert.Equal(t, model.ContentID("c-1"), state.ContentID)
	require.NotNil(t, state.Metadata)
	assert.Equal(t, "image/png", state.Metadata.ContentType)

	// 终态不可再次转换
	assert.False(t, q.Fail(key, job.ProcessingID))

	// 需要重新提交才会再次处理
	again, err := q.QueueNewContent("acc-1", 0, "", Params{})
	require.NoError(t, err)
	assert.Equal(t, State{Kind: StateInQueue, ProcessingID: again, Position: 1}, q.GetState("acc-1", 0))
	job, ok = q.PopFromQueue()
	require.True(t, ok)
	require.True(t, q.Fail(key, job.ProcessingID))
	assert.Equal(t, StateFailed, q.GetState("acc-1", 0).Kind)
}

func TestResubmitWhileProcessing(t *testing.T) {
	q := New(nil, nil)
	key := Key{Account: "acc-1", Slot: 2}

	_, err := q.QueueNewContent("acc-1", 2, "", Params{})
	require.NoError(t, err)
	running, ok := q.PopFromQueue()
	require.True(t, ok)

	newID, err := q.QueueNewContent("acc-1", 2, "", Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, State{Kind: StateInQueue, ProcessingID: newID, Position: 1}, q.GetState("acc-1", 2))

	// 旧任务的结果不会覆盖新提交
	assert.False(t, q.Complete(key, running.ProcessingID, "stale", model.ContentMetadata{}))
	assert.Equal(t, newID, q.GetState("acc-1", 2).ProcessingID)
}

func TestWaitAndNotify(t *testing.T) {
	q := New(nil, nil)

	waiting := make(chan error, 1)
	go func() { waiting <- q.Wait(context.Background()) }()

	_, err := q.QueueNewContent("acc-1", 0, "", Params{})
	require.NoError(t, err)
	select {
	case err := <-waiting:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not woken")
	}

	// 许可不累积：两次提交只留下一个许可
	_, err = q.QueueNewContent("acc-2", 0, "", Params{})
	require.NoError(t, err)
	_, err = q.QueueNewContent("acc-3", 0, "", Params{})
	require.NoError(t, err)
	require.NoError(t, q.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "upload")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	q := New(nil, nil)
	_, err := q.QueueNewContent("acc-1", 0, file, Params{})
	require.NoError(t, err)

	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Wait(context.Background()), ErrQueueClosed)
	_, err = q.QueueNewContent("acc-1", 1, "", Params{})
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, ok := q.PopFromQueue()
	assert.False(t, ok)
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}
