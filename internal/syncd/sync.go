package syncd

import (
	"context"
	"errors"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/syncversion"
	"accounts-syncd/internal/shared/writer"
)

// SyncCheck 同步检查结果
type SyncCheck struct {
	Result  syncversion.CheckResult
	Version syncversion.SyncVersion // 服务端当前版本
}

// CheckSync 比较客户端版本与服务端版本
//
// 只读：即使结果是 ResetVersionAndSync 也不修改服务端版本。
// 子缓存开启时读缓存，否则读持久化存储。
func (c *Core) CheckSync(ctx context.Context, account model.AccountID, category syncversion.Category, client syncversion.FromClient) (SyncCheck, error) {
	stored, err := c.syncVersion(ctx, account, category)
	if err != nil {
		return SyncCheck{}, dataerr.Wrap(err, "check_sync", account)
	}
	return SyncCheck{Result: syncversion.Check(stored, client), Version: stored}, nil
}

func (c *Core) syncVersion(ctx context.Context, account model.AccountID, category syncversion.Category) (syncversion.SyncVersion, error) {
	if c.categoryCached(category) {
		var v syncversion.SyncVersion
		err := c.cache.Read(account, func(e *cache.Entry) error {
			var err error
			v, err = e.SyncVersion(category)
			return err
		})
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return v, writer.CacheError(err)
		}
	}

	v, err := c.store.GetSyncVersion(ctx, account, category)
	return v, writer.DBError(err)
}

// BumpSyncVersion 递增分类版本
//
// 回绕到 0 时在同一次写操作中记录 SyncReset 通知，客户端必须全量同步。
func (c *Core) BumpSyncVersion(ctx context.Context, account model.AccountID, category syncversion.Category) (syncversion.Increment, error) {
	op := &writer.BumpSyncVersion{Account: account, Category: category}
	if err := c.writer.Write(ctx, op); err != nil {
		return syncversion.Increment{}, dataerr.Wrap(err, op.Name(), account)
	}
	return op.Result, nil
}

// RegisterAccount 创建账号
func (c *Core) RegisterAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	if !id.Valid() {
		return nil, dataerr.Wrap(dataerr.ErrNotAllowed, "register_account", id)
	}
	op := &writer.RegisterAccount{Account: model.Account{ID: id}}
	if err := c.writer.Write(ctx, op); err != nil {
		return nil, dataerr.Wrap(err, op.Name(), id)
	}
	c.metrics.SetCachedAccounts(c.cache.Len())
	return &op.Account, nil
}

// UpdateProfile 更新资料并返回新的资料版本
func (c *Core) UpdateProfile(ctx context.Context, profile model.Profile) (syncversion.SyncVersion, error) {
	if !c.cache.Features().Profile {
		return syncversion.SyncVersion{}, dataerr.Wrap(dataerr.ErrFeatureDisabled, "update_profile", profile.AccountID)
	}
	op := &writer.UpdateProfile{Profile: profile}
	if err := c.writer.Write(ctx, op); err != nil {
		return syncversion.SyncVersion{}, dataerr.Wrap(err, op.Name(), profile.AccountID)
	}
	return op.Result.Version, nil
}

// Profile 读取缓存中的资料
func (c *Core) Profile(account model.AccountID) (model.Profile, syncversion.SyncVersion, error) {
	var (
		profile model.Profile
		version syncversion.SyncVersion
	)
	err := c.cache.Read(account, func(e *cache.Entry) error {
		p, err := e.ProfileData()
		if err != nil {
			return err
		}
		profile, version = p.Profile, p.Version
		return nil
	})
	if err != nil {
		return profile, version, dataerr.Wrap(writer.CacheError(err), "get_profile", account)
	}
	return profile, version, nil
}
