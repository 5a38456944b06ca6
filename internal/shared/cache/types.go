// Package cache 缓存层类型定义
package cache

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/syncversion"
)

var (
	// ErrFeatureNotEnabled 对应的子缓存未初始化（所属功能在配置中关闭）
	ErrFeatureNotEnabled = errors.New("cache: feature not enabled")

	// ErrNotFound 账号不在缓存中
	ErrNotFound = errors.New("cache: not found")
)

// ============================================================================
// 功能开关
// ============================================================================

// Features 决定每个账号条目创建哪些子缓存
type Features struct {
	Profile bool `yaml:"profile"`
	Media   bool `yaml:"media"`
	Chat    bool `yaml:"chat"`
	Account bool `yaml:"account"`
}

// AllFeatures 开启所有子缓存
func AllFeatures() Features {
	return Features{Profile: true, Media: true, Chat: true, Account: true}
}

// ============================================================================
// 子缓存
// ============================================================================

// ProfileCache 资料子缓存
type ProfileCache struct {
	Profile model.Profile
	Version syncversion.SyncVersion
}

// MediaCache 媒体子缓存，按槽位记录已完成处理的内容
type MediaCache struct {
	Slots   map[model.Slot]model.ContentID
	Version syncversion.SyncVersion
}

// ChatCache 聊天子缓存
type ChatCache struct {
	UnreadMessages int
	Version        syncversion.SyncVersion
}

// AccountCache 账号子缓存
type AccountCache struct {
	CreatedAt time.Time
	Blocked   bool
}

// RateLimits 账号维度的限流器，首次使用时按配置创建
type RateLimits struct {
	ContentUpload *rate.Limiter
}

// AllowContentUpload 令牌桶限流：每 every 补充 limit 个令牌，突发上限为 limit
//
// limit <= 0 表示不限流。
func (r *RateLimits) AllowContentUpload(limit int, every time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if r.ContentUpload == nil {
		r.ContentUpload = rate.NewLimiter(rate.Every(every/time.Duration(limit)), limit)
	}
	return r.ContentUpload.Allow()
}

// ============================================================================
// 账号条目
// ============================================================================

// Entry 单个账号的缓存条目
//
// 只能在 Cache.Write 的闭包内修改，不得在闭包外保留引用。
type Entry struct {
	Profile *ProfileCache
	Media   *MediaCache
	Chat    *ChatCache
	Account *AccountCache

	// Sender 实时连接的事件发送端，没有连接时为 nil
	Sender *EventSender

	PendingNotifications model.NotificationFlags
	RateLimits           RateLimits
}

func newEntry(f Features) *Entry {
	e := &Entry{}
	if f.Profile {
		e.Profile = &ProfileCache{}
	}
	if f.Media {
		e.Media = &MediaCache{Slots: make(map[model.Slot]model.ContentID)}
	}
	if f.Chat {
		e.Chat = &ChatCache{}
	}
	if f.Account {
		e.Account = &AccountCache{}
	}
	return e
}

// ProfileData 返回资料子缓存
func (e *Entry) ProfileData() (*ProfileCache, error) {
	if e.Profile == nil {
		return nil, ErrFeatureNotEnabled
	}
	return e.Profile, nil
}

// MediaData 返回媒体子缓存
func (e *Entry) MediaData() (*MediaCache, error) {
	if e.Media == nil {
		return nil, ErrFeatureNotEnabled
	}
	return e.Media, nil
}

// ChatData 返回聊天子缓存
func (e *Entry) ChatData() (*ChatCache, error) {
	if e.Chat == nil {
		return nil, ErrFeatureNotEnabled
	}
	return e.Chat, nil
}

// AccountData 返回账号子缓存
func (e *Entry) AccountData() (*AccountCache, error) {
	if e.Account == nil {
		return nil, ErrFeatureNotEnabled
	}
	return e.Account, nil
}

// SyncVersion 返回指定分类的缓存版本
func (e *Entry) SyncVersion(c syncversion.Category) (syncversion.SyncVersion, error) {
	v, err := e.syncVersionRef(c)
	if err != nil {
		return syncversion.SyncVersion{}, err
	}
	return *v, nil
}

// SetSyncVersion 更新指定分类的缓存版本
func (e *Entry) SetSyncVersion(c syncversion.Category, v syncversion.SyncVersion) error {
	ref, err := e.syncVersionRef(c)
	if err != nil {
		return err
	}
	*ref = v
	return nil
}

func (e *Entry) syncVersionRef(c syncversion.Category) (*syncversion.SyncVersion, error) {
	switch c {
	case syncversion.CategoryProfile:
		if e.Profile == nil {
			return nil, ErrFeatureNotEnabled
		}
		return &e.Profile.Version, nil
	case syncversion.CategoryMedia:
		if e.Media == nil {
			return nil, ErrFeatureNotEnabled
		}
		return &e.Media.Version, nil
	case syncversion.CategoryChat:
		if e.Chat == nil {
			return nil, ErrFeatureNotEnabled
		}
		return &e.Chat.Version, nil
	default:
		return nil, ErrFeatureNotEnabled
	}
}
