package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/objstore"
)

// Processor 内容处理算法
type Processor interface {
	Process(ctx context.Context, job *Job, objects objstore.Store) (model.ContentID, model.ContentMetadata, error)
}

// ProcessorFunc 函数适配器
type ProcessorFunc func(ctx context.Context, job *Job, objects objstore.Store) (model.ContentID, model.ContentMetadata, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job, objects objstore.Store) (model.ContentID, model.ContentMetadata, error) {
	return f(ctx, job, objects)
}

// StoreProcessor 默认处理器：识别内容类型、计算校验和并写入对象存储
type StoreProcessor struct {
	MaxSize      int64    // 0 表示不限制
	AllowedTypes []string // 允许的类型前缀（如 "image/"），为空表示不限制
}

// ObjectKey 内容在对象存储中的键
func ObjectKey(account model.AccountID, id model.ContentID) string {
	return fmt.Sprintf("content/%s/%s", account, id)
}

func (p StoreProcessor) Process(ctx context.Context, job *Job, objects objstore.Store) (model.ContentID, model.ContentMetadata, error) {
	if objects == nil {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: object store not configured", ErrProcessingFailed)
	}

	f, err := os.Open(job.TempFile)
	if err != nil {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: open upload: %v", ErrProcessingFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: stat upload: %v", ErrProcessingFailed, err)
	}
	size := info.Size()
	if size == 0 {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: empty content", ErrProcessingFailed)
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: content size %d exceeds %d", ErrProcessingFailed, size, p.MaxSize)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: read upload: %v", ErrProcessingFailed, err)
	}
	contentType := http.DetectContentType(head[:n])
	if !p.allowed(contentType) {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: content type %s not allowed", ErrProcessingFailed, contentType)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: rewind upload: %v", ErrProcessingFailed, err)
	}

	id := model.ContentID(uuid.NewString())
	h := sha256.New()
	if err := objects.Upload(ctx, ObjectKey(job.Key.Account, id), io.TeeReader(f, h), size, contentType); err != nil {
		return "", model.ContentMetadata{}, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	return id, model.ContentMetadata{
		ContentType: contentType,
		Size:        size,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (p StoreProcessor) allowed(contentType string) bool {
	if len(p.AllowedTypes) == 0 {
		return true
	}
	for _, prefix := range p.AllowedTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
