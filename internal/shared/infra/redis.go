// Package infra Redis 推送中继初始化
package infra

import (
	"log"

	"accounts-syncd/internal/config"
	"accounts-syncd/internal/shared/eventbus"
	eventbusredis "accounts-syncd/internal/shared/eventbus/redis"
)

// newPushNotifier 配置了 Redis 时连接推送中继，否则返回 NoOp
//
// 离线通知仍然记录在待确认位图中，客户端下次连接时能拉取到。
func newPushNotifier(cfg *config.Config) (eventbus.PushNotifier, error) {
	if !cfg.PushRelayEnabled() {
		log.Printf("[Redis/Push] Disabled, offline notifications stay pending until reconnect")
		return eventbus.NewNoOpPushNotifier(), nil
	}
	return eventbusredis.NewPushRelay(cfg.RedisURL, cfg.RedisStream)
}
