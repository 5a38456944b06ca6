// Package objstore 处理完成内容的对象存储
//
// 生产环境使用 MinIO，未配置 endpoint 时退化为本地目录（开发/测试）。
package objstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Store 对象存储接口
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ============================================================================
// LocalStore - 本地目录实现
// ============================================================================

// LocalStore 以本地目录保存对象
type LocalStore struct {
	root string
}

// NewLocalStore 创建本地存储，目录不存在时创建
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) string {
	clean := filepath.Clean("/" + strings.TrimPrefix(key, "/"))
	return filepath.Join(s.root, clean)
}

// Upload 写入对象（先写临时文件再重命名）
func (s *LocalStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Download 读取对象，调用方负责关闭
func (s *LocalStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Exists 检查对象是否存在
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Delete 删除对象，不存在时不报错
func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*Client)(nil)
)
