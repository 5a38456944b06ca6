package syncd

import (
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/model"
)

// Connect 为账号建立实时连接，替换已有连接
func (c *Core) Connect(account model.AccountID) (*eventbus.Subscription, error) {
	if !c.cache.Contains(account) {
		return nil, dataerr.Wrap(dataerr.ErrNotFound, "connect", account)
	}
	sub, err := c.events.Connect(account)
	if err != nil {
		return nil, dataerr.Wrap(dataerr.ErrEventModeAccessFailed, "connect", account)
	}
	return sub, nil
}

// Notify 记录通知并尽力实时送达，离线时交给推送中继
func (c *Core) Notify(account model.AccountID, category model.NotificationFlags) error {
	if !c.cache.Contains(account) {
		return dataerr.Wrap(dataerr.ErrNotFound, "notify", account)
	}
	return dataerr.Wrap(c.events.SendNotification(account, category), "notify", account)
}

// PendingNotifications 返回待确认的通知分类
func (c *Core) PendingNotifications(account model.AccountID) (model.NotificationFlags, error) {
	if !c.cache.Contains(account) {
		return 0, dataerr.Wrap(dataerr.ErrNotFound, "pending_notifications", account)
	}
	flags, err := c.events.PendingNotificationFlags(account)
	return flags, dataerr.Wrap(err, "pending_notifications", account)
}

// AckNotifications 清除客户端已处理的通知分类，其余分类保持不变
func (c *Core) AckNotifications(account model.AccountID, flags model.NotificationFlags) error {
	if !c.cache.Contains(account) {
		return dataerr.Wrap(dataerr.ErrNotFound, "ack_notifications", account)
	}
	return dataerr.Wrap(c.events.RemoveSpecificPendingNotificationFlags(account, flags), "ack_notifications", account)
}
