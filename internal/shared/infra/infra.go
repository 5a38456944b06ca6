// Package infra 基础设施聚合层
//
// 根据配置初始化核心依赖的外部资源：
//   - Store：持久化存储（SQLite 或 PostgreSQL）
//   - Objects：处理完成内容的对象存储（MinIO 或本地目录）
//   - Push：离线推送中继（Redis Streams，可选）
package infra

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"accounts-syncd/internal/config"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/storage/dbutil"
	pgdriver "accounts-syncd/internal/shared/storage/driver/postgres"
	sqlitedriver "accounts-syncd/internal/shared/storage/driver/sqlite"
	"accounts-syncd/internal/shared/storage/repository"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Store 持久化存储，只允许 writer 写入
	Store *repository.Store

	// Objects 对象存储
	Objects objstore.Store

	// Push 推送中继，未启用 Redis 时为 NoOp
	//
	// 交给 eventbus.Dispatcher 后由 Dispatcher.Close 关闭，Infrastructure.Close 不再关闭它。
	Push eventbus.PushNotifier
}

// New 按配置初始化所有基础设施，失败时关闭已打开的资源
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	store, err := OpenStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	infra := &Infrastructure{Store: store}

	if infra.Objects, err = newObjectStore(ctx, cfg.MinIO); err != nil {
		infra.Close()
		return nil, err
	}

	if infra.Push, err = newPushNotifier(cfg); err != nil {
		infra.Close()
		return nil, err
	}
	return infra, nil
}

// OpenStore 根据驱动类型和 DSN 创建持久化存储（含自动建表）
func OpenStore(driver, dsn string) (*repository.Store, error) {
	driverType, err := dbutil.ParseDriverType(driver)
	if err != nil {
		return nil, err
	}

	var dialect dbutil.Dialect
	open := sqlitedriver.Open
	switch driverType {
	case dbutil.DriverPostgres:
		dialect = pgdriver.NewDialect()
		open = pgdriver.Open
	case dbutil.DriverSQLite:
		dialect = sqlitedriver.NewDialect()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s auto-migrate failed: %w", driverType, err)
	}
	log.Printf("[Storage] Opened %s store", driverType)
	return repository.NewStore(db, dialect), nil
}

// newObjectStore 配置了 endpoint 时使用 MinIO，否则使用本地目录
func newObjectStore(ctx context.Context, cfg config.MinIOConfig) (objstore.Store, error) {
	if cfg.Endpoint == "" {
		dir := cfg.LocalDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "accounts-syncd", "content")
		}
		log.Printf("[Objects] Using local directory %s", dir)
		return objstore.NewLocalStore(dir)
	}

	client, err := objstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare minio bucket: %w", err)
	}
	log.Printf("[Objects] Using MinIO at %s", cfg.Endpoint)
	return client, nil
}

// Close 关闭持久化存储
func (i *Infrastructure) Close() error {
	if i.Store != nil {
		return i.Store.Close()
	}
	return nil
}
