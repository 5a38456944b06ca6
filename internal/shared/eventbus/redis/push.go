// Package redis 推送中继（Redis Streams）
//
// 推送通知由进程外的推送服务消费：本包只把账号 ID 追加到 Stream，
// 推送服务按账号拉取待确认通知并选择投递渠道。
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/model"
)

// PushRelay 基于 Redis Stream 的 PushNotifier
type PushRelay struct {
	client    *redis.Client
	stream    string
	ownClient bool
}

// NewPushRelayFromClient 使用已有客户端创建推送中继（不负责关闭客户端）
func NewPushRelayFromClient(client *redis.Client, stream string) *PushRelay {
	if stream == "" {
		stream = eventbus.DefaultPushStream
	}
	return &PushRelay{client: client, stream: stream}
}

// NewPushRelay 从 URL 创建推送中继
func NewPushRelay(redisURL, stream string) (*PushRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Push] Connected to %s", opts.Addr)

	relay := NewPushRelayFromClient(client, stream)
	relay.ownClient = true
	return relay, nil
}

// Notify 追加一条推送请求
func (r *PushRelay) Notify(ctx context.Context, account model.AccountID) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"account_id": account.String(),
			"timestamp":  time.Now().Format(time.RFC3339Nano),
		},
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish push request: %w", err)
	}

	log.Printf("[Redis/Push] Queued push: account=%s seq=%s", account, id)
	return nil
}

// Stream 返回 Stream 名称
func (r *PushRelay) Stream() string {
	return r.stream
}

// Close 关闭自有连接
func (r *PushRelay) Close() error {
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}

var _ eventbus.PushNotifier = (*PushRelay)(nil)
