// Package syncd 数据一致性与客户端同步核心
//
// 目录结构：
//   - core.go:     Core 主体、启动加载与关闭流程
//   - sync.go:     同步版本检查与写操作入口
//   - content.go:  内容上传与处理状态查询
//   - notify.go:   实时连接与待确认通知
//
// Core 把写协调器、缓存、内容处理队列和事件分发器组装在一起，
// API 层只通过 Core 访问数据，不直接接触持久化存储的写路径。
package syncd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"accounts-syncd/internal/config"
	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/queue"
	"accounts-syncd/internal/shared/storage/repository"
	"accounts-syncd/internal/shared/syncversion"
	"accounts-syncd/internal/shared/writer"
	"accounts-syncd/pkg/logging"
)

// Config 核心配置
type Config struct {
	Features        cache.Features
	Workers         int           // 内容处理 worker 数量
	TmpDir          string        // 上传临时文件目录
	MaxSize         int64         // 单个上传的最大字节数，0 表示不限制
	AllowedTypes    []string      // 允许的内容类型前缀，为空表示不限制
	UploadLimit     int           // 每个账号的上传突发上限，0 表示不限流
	UploadEvery     time.Duration // 令牌补满周期
	BlockingWorkers int           // 阻塞型写操作的专用 worker 数量
	ChannelCapacity int           // 每个连接的事件通道容量
}

// ConfigFrom 从应用配置构造核心配置
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Features:        cfg.Features,
		Workers:         cfg.Processing.Workers,
		TmpDir:          cfg.Processing.TmpDir,
		MaxSize:         cfg.Processing.MaxSize,
		AllowedTypes:    cfg.Processing.AllowedTypes,
		UploadLimit:     cfg.Processing.UploadLimit,
		UploadEvery:     cfg.Processing.UploadEvery,
		BlockingWorkers: cfg.Writer.BlockingWorkers,
		ChannelCapacity: cfg.Events.ChannelCapacity,
	}
}

// Deps 核心依赖的外部资源
type Deps struct {
	Store     *repository.Store     // 必需
	Objects   objstore.Store        // 可选，为空时内容处理会失败
	Push      eventbus.PushNotifier // 可选，为空时使用 NoOp
	Metrics   *metrics.Metrics      // 可选
	Processor queue.Processor       // 可选，默认 queue.StoreProcessor
	Logger    *logging.Logger       // 可选
}

// Core 数据一致性核心
type Core struct {
	config  Config
	store   *repository.Store
	cache   *cache.Cache
	writer  *writer.Coordinator
	queue   *queue.Queue
	events  *eventbus.Dispatcher
	objects objstore.Store
	metrics *metrics.Metrics
	logger  *logging.Logger

	processor queue.Processor

	mu            sync.Mutex
	workersDone   chan error
	cancelWorkers context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New 组装核心组件
func New(deps Deps, cfg Config) *Core {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default("syncd")
	}
	processor := deps.Processor
	if processor == nil {
		processor = queue.StoreProcessor{MaxSize: cfg.MaxSize, AllowedTypes: cfg.AllowedTypes}
	}

	c := cache.New(cfg.Features)
	eventOpts := []eventbus.Option{
		eventbus.WithMetrics(deps.Metrics),
		eventbus.WithLogger(logger.WithComponent("eventbus")),
	}
	if cfg.ChannelCapacity > 0 {
		eventOpts = append(eventOpts, eventbus.WithChannelCapacity(cfg.ChannelCapacity))
	}
	events := eventbus.NewDispatcher(c, deps.Push, eventOpts...)

	writerOpts := []writer.Option{
		writer.WithObjectStore(deps.Objects),
		writer.WithMetrics(deps.Metrics),
		writer.WithLogger(logger.WithComponent("writer")),
	}
	if cfg.BlockingWorkers > 0 {
		writerOpts = append(writerOpts, writer.WithBlockingWorkers(cfg.BlockingWorkers))
	}

	return &Core{
		config:    cfg,
		store:     deps.Store,
		cache:     c,
		writer:    writer.New(deps.Store, c, events, writerOpts...),
		queue:     queue.New(events, deps.Metrics),
		events:    events,
		objects:   deps.Objects,
		metrics:   deps.Metrics,
		logger:    logger,
		processor: processor,
	}
}

// Cache 返回缓存
func (c *Core) Cache() *cache.Cache { return c.cache }

// Writer 返回写协调器
func (c *Core) Writer() *writer.Coordinator { return c.writer }

// Queue 返回内容处理队列
func (c *Core) Queue() *queue.Queue { return c.queue }

// Events 返回事件分发器
func (c *Core) Events() *eventbus.Dispatcher { return c.events }

// Metrics 返回指标（可能为 nil）
func (c *Core) Metrics() *metrics.Metrics { return c.metrics }

// ============================================================================
// 启动加载
// ============================================================================

// LoadCache 启动时从持久化存储重建缓存
//
// 必须在对外提供服务之前调用，此时还没有并发写入。
func (c *Core) LoadCache(ctx context.Context) error {
	start := time.Now()
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	for _, account := range accounts {
		versions, err := c.store.ListSyncVersions(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("load sync versions of %s: %w", account.ID, err)
		}
		profile, err := c.store.GetProfile(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("load profile of %s: %w", account.ID, err)
		}
		contents, err := c.store.ListContent(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("load content of %s: %w", account.ID, err)
		}

		c.cache.Load(account.ID, func(e *cache.Entry) {
			if a, err := e.AccountData(); err == nil {
				a.CreatedAt = account.CreatedAt
			}
			if p, err := e.ProfileData(); err == nil && profile != nil {
				p.Profile = *profile
			}
			if m, err := e.MediaData(); err == nil {
				for _, content := range contents {
					m.Slots[content.Slot] = content.ID
				}
			}
			for category, v := range versions {
				_ = e.SetSyncVersion(category, v)
			}
		})
	}

	c.metrics.SetCachedAccounts(c.cache.Len())
	log.Printf("[Syncd] Loaded %d accounts into cache in %v", len(accounts), time.Since(start).Round(time.Millisecond))
	return nil
}

// ============================================================================
// 生命周期
// ============================================================================

// StartWorkers 启动内容处理 worker，重复调用无效
func (c *Core) StartWorkers(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workersDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	c.cancelWorkers = cancel
	c.workersDone = done

	go func() {
		done <- queue.RunWorkers(ctx, c.config.Workers, func() *queue.Worker {
			return queue.NewWorker(c.queue, c.writer, c.processor, c.logger.WithComponent("queue"))
		})
	}()
	log.Printf("[Syncd] Started %d content processing workers", c.config.Workers)
}

// Shutdown 优雅关闭
//
// 顺序：停止出队 → 拒绝新的写操作并等待在途写操作完成 → 等待 worker 退出 → 等待推送完成。
// 正在处理的任务会运行到结束，队列中尚未开始的任务被丢弃。重复调用返回第一次的结果。
func (c *Core) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Core) shutdown(ctx context.Context) error {
	c.queue.Close()

	var errs []error
	if err := c.writer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("writer shutdown: %w", err))
	}

	c.mu.Lock()
	done, cancel := c.workersDone, c.cancelWorkers
	c.mu.Unlock()
	if done != nil {
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("workers: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("workers: %w", ctx.Err()))
		}
		cancel()
	}

	if err := c.events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}

	if len(errs) == 0 {
		log.Printf("[Syncd] Shutdown complete")
	}
	return errors.Join(errs...)
}

// categoryCached 该分类对应的子缓存是否开启
func (c *Core) categoryCached(category syncversion.Category) bool {
	f := c.cache.Features()
	switch category {
	case syncversion.CategoryProfile:
		return f.Profile
	case syncversion.CategoryMedia:
		return f.Media
	case syncversion.CategoryChat:
		return f.Chat
	default:
		return false
	}
}
