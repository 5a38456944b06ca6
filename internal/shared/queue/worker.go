package queue

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/writer"
	"accounts-syncd/pkg/logging"
)

// Worker 内容处理 worker
//
// 处理在任务键对应的并发写路径（阻塞池）中执行，结果通过全局写路径持久化，
// 事务提交后才更新媒体缓存并把任务标记为完成。
type Worker struct {
	queue     *Queue
	writer    *writer.Coordinator
	processor Processor
	logger    *logging.Logger
}

// NewWorker 创建 worker；processor 为 nil 时使用 StoreProcessor
func NewWorker(q *Queue, w *writer.Coordinator, processor Processor, logger *logging.Logger) *Worker {
	if processor == nil {
		processor = StoreProcessor{}
	}
	if logger == nil {
		logger = logging.Default("queue")
	}
	return &Worker{queue: q, writer: w, processor: processor, logger: logger}
}

// Run 等待唤醒并排空队列，直到 ctx 结束或队列关闭
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ok := w.queue.PopFromQueue()
		if !ok {
			if err := w.queue.Wait(ctx); err != nil {
				if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// RunWorkers 启动 n 个 worker 并等待全部退出
func RunWorkers(ctx context.Context, n int, newWorker func() *Worker) error {
	if n <= 0 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := newWorker()
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}
	return g.Wait()
}

// Process 处理单个任务并报告结果
//
// 任务一旦开始就运行到结束，不受 ctx 取消影响。
func (w *Worker) Process(ctx context.Context, job *Job) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := w.logger.WithAccountID(job.Key.Account.String()).WithProcessingID(job.ProcessingID.String())
	defer func() {
		if job.TempFile != "" {
			os.Remove(job.TempFile)
		}
	}()

	var persisted writer.SetSlotContent
	err := w.writer.ConcurrentWriteProfileBlocking(ctx, job.Key.String(), writer.ConcurrentOperationFunc(
		func(ctx context.Context, cmds *writer.ConcurrentWriteCmds) error {
			id, metadata, err := w.processor.Process(ctx, job, cmds.Objects())
			if err != nil {
				return err
			}
			persisted.Content = model.Content{
				ID:        id,
				AccountID: job.Key.Account,
				Slot:      job.Key.Slot,
				Metadata:  metadata,
			}
			if err := cmds.Write(ctx, &persisted); err != nil {
				cleanupObject(ctx, cmds.Objects(), job.Key.Account, id)
				return err
			}
			// 槽位中被替换的旧内容已无引用
			cleanupObject(ctx, cmds.Objects(), job.Key.Account, persisted.Replaced)
			return nil
		}))

	if err != nil {
		log.WithDuration(time.Since(start)).WithError(err).Warn("Content processing failed")
		w.queue.Fail(job.Key, job.ProcessingID)
		return
	}

	if !w.queue.Complete(job.Key, job.ProcessingID, persisted.Content.ID, persisted.Content.Metadata) {
		log.Info("Content processed for a superseded submission")
		return
	}
	w.logger.ProcessingLog("completed", job.Key.Account.String(), job.ProcessingID.String(),
		"content_id", string(persisted.Content.ID), "size", persisted.Content.Metadata.Size,
		"duration_ms", time.Since(start).Milliseconds())

	if err := w.writer.Events().SendNotification(job.Key.Account, model.NotificationContentProcessed); err != nil {
		log.WithError(err).Warn("Content processed notification failed")
	}
}

func cleanupObject(ctx context.Context, objects objstore.Store, account model.AccountID, id model.ContentID) {
	if objects == nil || id == "" {
		return
	}
	_ = objects.Delete(ctx, ObjectKey(account, id))
}
