package syncd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/queue"
	"accounts-syncd/internal/shared/writer"
)

// SubmitContent 保存上传内容并加入处理队列
//
// 同一槽位仍在排队时替换原任务（位置不变）。返回新的处理 ID，
// 处理进度通过 content_processing_state_changed 事件推送。
func (c *Core) SubmitContent(ctx context.Context, account model.AccountID, slot model.Slot, r io.Reader, contentType string) (uuid.UUID, error) {
	const op = "submit_content"
	if !slot.Valid() {
		return uuid.Nil, dataerr.Wrap(fmt.Errorf("%w: %w", dataerr.ErrNotAllowed, queue.ErrInvalidSlot), op, account)
	}
	if !c.cache.Features().Media {
		return uuid.Nil, dataerr.Wrap(dataerr.ErrFeatureDisabled, op, account)
	}

	err := c.cache.WriteExisting(account, func(e *cache.Entry) error {
		if !e.RateLimits.AllowContentUpload(c.config.UploadLimit, c.config.UploadEvery) {
			return fmt.Errorf("%w: upload rate limit exceeded", dataerr.ErrNotAllowed)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, dataerr.Wrap(writer.CacheError(err), op, account)
	}

	path, size, err := c.saveUpload(r)
	if err != nil {
		return uuid.Nil, dataerr.Wrap(err, op, account)
	}

	id, err := c.queue.QueueNewContent(account, slot, path, queue.Params{ContentType: contentType, Size: size})
	if err != nil {
		os.Remove(path)
		if errors.Is(err, queue.ErrQueueClosed) {
			err = dataerr.ErrServerClosingInProgress
		}
		return uuid.Nil, dataerr.Wrap(err, op, account)
	}
	return id, nil
}

// saveUpload 把上传内容写入临时文件，超过大小限制时拒绝
func (c *Core) saveUpload(r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(c.config.TmpDir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	src := r
	if c.config.MaxSize > 0 {
		src = io.LimitReader(r, c.config.MaxSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("save upload: %w", err)
	}
	if c.config.MaxSize > 0 && n > c.config.MaxSize {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("%w: content exceeds %d bytes", dataerr.ErrNotAllowed, c.config.MaxSize)
	}
	return f.Name(), n, nil
}

// ContentState 查询槽位的处理状态，O(1)
func (c *Core) ContentState(account model.AccountID, slot model.Slot) queue.State {
	return c.queue.GetState(account, slot)
}

// OpenContent 打开槽位当前的内容，调用方负责关闭
func (c *Core) OpenContent(ctx context.Context, account model.AccountID, slot model.Slot) (io.ReadCloser, *model.Content, error) {
	const op = "open_content"
	var id model.ContentID
	err := c.cache.Read(account, func(e *cache.Entry) error {
		m, err := e.MediaData()
		if err != nil {
			return err
		}
		id = m.Slots[slot]
		return nil
	})
	if err != nil {
		return nil, nil, dataerr.Wrap(writer.CacheError(err), op, account)
	}
	if id == "" {
		return nil, nil, dataerr.Wrap(dataerr.ErrNotFound, op, account)
	}

	content, err := c.store.GetContent(ctx, id)
	if err != nil {
		return nil, nil, dataerr.Wrap(writer.DBError(err), op, account)
	}
	if content == nil || c.objects == nil {
		return nil, nil, dataerr.Wrap(dataerr.ErrNotFound, op, account)
	}

	rc, err := c.objects.Download(ctx, queue.ObjectKey(account, id))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, nil, dataerr.Wrap(dataerr.ErrNotFound, op, account)
		}
		return nil, nil, dataerr.Wrap(err, op, account)
	}
	return rc, content, nil
}
