package writer

import (
	"context"
	"errors"
	"time"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/storage/repository"
	"accounts-syncd/internal/shared/syncversion"
)

// ============================================================================
// 具体写命令
//
// 每个命令携带自己的结果字段，Execute 返回后由调用方读取。
// 所有命令遵循同一顺序：事务提交 → 更新缓存 → 发送事件。
// ============================================================================

// RegisterAccount 创建账号并初始化缓存条目
type RegisterAccount struct {
	Account model.Account
}

func (op *RegisterAccount) Name() string { return "register_account" }

func (op *RegisterAccount) Execute(ctx context.Context, cmds *WriteCmds) error {
	if op.Account.CreatedAt.IsZero() {
		op.Account.CreatedAt = time.Now()
	}
	return cmds.TransactionThenCache(ctx, op.Account.ID,
		func(tx *repository.Tx) error {
			return tx.CreateAccount(ctx, &op.Account)
		},
		func(e *cache.Entry) error {
			if a, err := e.AccountData(); err == nil {
				a.CreatedAt = op.Account.CreatedAt
			}
			if p, err := e.ProfileData(); err == nil {
				p.Profile = model.Profile{AccountID: op.Account.ID, UpdatedAt: op.Account.CreatedAt}
			}
			return nil
		})
}

// BumpSyncVersion 递增分类版本号
//
// 回绕时在同一次写操作中通知所有观察者强制全量同步。
type BumpSyncVersion struct {
	Account  model.AccountID
	Category syncversion.Category

	Result syncversion.Increment
}

func (op *BumpSyncVersion) Name() string { return "bump_sync_version" }

func (op *BumpSyncVersion) Execute(ctx context.Context, cmds *WriteCmds) error {
	err := cmds.TransactionThenCache(ctx, op.Account,
		func(tx *repository.Tx) error {
			inc, err := tx.IncrementSyncVersion(ctx, op.Account, op.Category)
			op.Result = inc
			return err
		},
		func(e *cache.Entry) error {
			return skipDisabled(e.SetSyncVersion(op.Category, op.Result.Version))
		})
	if err != nil {
		return err
	}
	return cmds.AnnounceVersion(op.Account, op.Category, op.Result)
}

// UpdateProfile 写入资料并递增资料版本
type UpdateProfile struct {
	Profile model.Profile

	Result syncversion.Increment
}

func (op *UpdateProfile) Name() string { return "update_profile" }

func (op *UpdateProfile) Execute(ctx context.Context, cmds *WriteCmds) error {
	if op.Profile.UpdatedAt.IsZero() {
		op.Profile.UpdatedAt = time.Now()
	}
	account := op.Profile.AccountID
	err := cmds.TransactionThenCache(ctx, account,
		func(tx *repository.Tx) error {
			if err := tx.UpsertProfile(ctx, &op.Profile); err != nil {
				return err
			}
			inc, err := tx.IncrementSyncVersion(ctx, account, syncversion.CategoryProfile)
			op.Result = inc
			return err
		},
		func(e *cache.Entry) error {
			p, err := e.ProfileData()
			if err != nil {
				return skipDisabled(err)
			}
			p.Profile = op.Profile
			p.Version = op.Result.Version
			return nil
		})
	if err != nil {
		return err
	}
	return cmds.AnnounceVersion(account, syncversion.CategoryProfile, op.Result)
}

// SetSlotContent 持久化处理完成的内容并递增媒体版本
//
// Replaced 为提交后不再被引用的旧内容 ID，对象清理由调用方负责。
type SetSlotContent struct {
	Content model.Content

	Result   syncversion.Increment
	Replaced model.ContentID
}

func (op *SetSlotContent) Name() string { return "set_slot_content" }

func (op *SetSlotContent) Execute(ctx context.Context, cmds *WriteCmds) error {
	account := op.Content.AccountID
	err := cmds.TransactionThenCache(ctx, account,
		func(tx *repository.Tx) error {
			replaced, err := tx.SetSlotContent(ctx, &op.Content)
			if err != nil {
				return err
			}
			op.Replaced = replaced
			inc, err := tx.IncrementSyncVersion(ctx, account, syncversion.CategoryMedia)
			op.Result = inc
			return err
		},
		func(e *cache.Entry) error {
			m, err := e.MediaData()
			if err != nil {
				return skipDisabled(err)
			}
			m.Slots[op.Content.Slot] = op.Content.ID
			m.Version = op.Result.Version
			return nil
		})
	if err != nil {
		return err
	}
	return cmds.AnnounceVersion(account, syncversion.CategoryMedia, op.Result)
}

// AnnounceVersion 版本变化后通知观察者
//
// 普通递增只发送刷新提示；回绕必须让客户端全量同步，因此同时记录 SyncReset 通知。
func (w *WriteCmds) AnnounceVersion(account model.AccountID, c syncversion.Category, inc syncversion.Increment) error {
	data := map[string]interface{}{
		"category": string(c),
		"version":  inc.Version.Int(),
	}
	if inc.Wrapped {
		w.c.events.SendConnectedEvent(account, model.NewEventToClient(model.EventTypeSyncVersionReset, data))
		return w.c.events.SendNotification(account, model.NotificationSyncReset)
	}
	w.c.events.SendConnectedEvent(account, model.NewEventToClient(changedEventType(c), data))
	return nil
}

func changedEventType(c syncversion.Category) model.EventType {
	switch c {
	case syncversion.CategoryProfile:
		return model.EventTypeProfileChanged
	case syncversion.CategoryMedia:
		return model.EventTypeMediaChanged
	default:
		return model.EventTypeChatChanged
	}
}

// skipDisabled 子缓存关闭时不需要同步缓存
func skipDisabled(err error) error {
	if errors.Is(err, cache.ErrFeatureNotEnabled) {
		return nil
	}
	return err
}
