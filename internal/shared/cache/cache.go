// Package cache 按账号分片的内存缓存
//
// 缓存镜像部分持久化状态以降低读延迟。每个账号一个条目，每个条目一把锁：
// 不同账号的修改互不竞争，同一账号的修改相互串行。
//
// 一致性约束：同时存在于缓存和持久化存储中的状态，只能在对应事务提交之后、
// 且在同一次 writer.Write 调用内更新缓存，绝不能在事务提交前投机性地修改缓存。
package cache

import (
	"fmt"
	"sort"
	"sync"

	"accounts-syncd/internal/shared/model"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// Accessor 账号条目的加锁访问接口
type Accessor interface {
	Read(id model.AccountID, fn func(e *Entry) error) error
	Write(id model.AccountID, fn func(e *Entry) error) error
}

// slot 单个账号的条目及其锁
type slot struct {
	mu    sync.RWMutex
	entry *Entry
}

// Cache 按账号分片的缓存
//
// 条目在第一次写入时惰性创建，进程生命周期内不会移除。
type Cache struct {
	features Features

	mu    sync.RWMutex // 保护 slots 映射本身
	slots map[model.AccountID]*slot
}

// New 创建缓存
func New(features Features) *Cache {
	return &Cache{
		features: features,
		slots:    make(map[model.AccountID]*slot),
	}
}

// Features 返回子缓存开关
func (c *Cache) Features() Features {
	return c.features
}

// Read 在账号读锁下执行 fn
//
// fn 不得修改条目；账号从未写入过时返回 ErrNotFound。
func (c *Cache) Read(id model.AccountID, fn func(e *Entry) error) error {
	s := c.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.entry)
}

// Write 在账号写锁下执行 fn，条目不存在时创建
func (c *Cache) Write(id model.AccountID, fn func(e *Entry) error) error {
	s := c.getOrCreate(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.entry)
}

// WriteExisting 与 Write 相同，但不创建条目
func (c *Cache) WriteExisting(id model.AccountID, fn func(e *Entry) error) error {
	s := c.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.entry)
}

// Load 启动时从持久化存储填充条目，条目不存在时创建
func (c *Cache) Load(id model.AccountID, fn func(e *Entry)) {
	s := c.getOrCreate(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.entry)
}

// Contains 账号是否已在缓存中
func (c *Cache) Contains(id model.AccountID) bool {
	return c.lookup(id) != nil
}

// Len 缓存中的账号数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// Accounts 返回缓存中的账号（按字典序）
func (c *Cache) Accounts() []model.AccountID {
	c.mu.RLock()
	ids := make([]model.AccountID, 0, len(c.slots))
	for id := range c.slots {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Cache) lookup(id model.AccountID) *slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slots[id]
}

func (c *Cache) getOrCreate(id model.AccountID) *slot {
	if s := c.lookup(id); s != nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[id]; ok {
		return s
	}
	s := &slot{entry: newEntry(c.features)}
	c.slots[id] = s
	return s
}

// 确保 Cache 实现了 Accessor 接口
var _ Accessor = (*Cache)(nil)
