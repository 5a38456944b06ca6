// Package syncversion 单字节回绕同步版本号
//
// 每个账号的每个可同步分类（资料、媒体、聊天）各持有一个 SyncVersion，
// 客户端轮询时上报自己最后看到的版本，服务端据此决定是否需要重新下发完整状态。
//
// 版本号取值范围 [0,255]。255 作为客户端侧的"从未同步"哨兵值，
// 递增到 255 之后回绕到 0，回绕本身必须触发一次强制全量同步。
package syncversion

import "fmt"

// MaxValue 版本号上限，同时也是客户端"从未同步"哨兵值
const MaxValue = 255

// ============================================================================
// 同步分类
// ============================================================================

// Category 可同步分类
type Category string

const (
	CategoryProfile Category = "profile"
	CategoryMedia   Category = "media"
	CategoryChat    Category = "chat"
)

// Categories 返回所有同步分类（顺序固定）
func Categories() []Category {
	return []Category{CategoryProfile, CategoryMedia, CategoryChat}
}

// ParseCategory 解析分类名
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryProfile, CategoryMedia, CategoryChat:
		return Category(s), nil
	default:
		return "", fmt.Errorf("unknown sync category: %q", s)
	}
}

// ============================================================================
// 服务端版本号
// ============================================================================

// SyncVersion 服务端持久化的版本号
type SyncVersion struct {
	v uint8
}

// New 创建版本号，超出 [0,255] 的值被截断到边界
func New(v int) SyncVersion {
	switch {
	case v < 0:
		return SyncVersion{v: 0}
	case v > MaxValue:
		return SyncVersion{v: MaxValue}
	default:
		return SyncVersion{v: uint8(v)}
	}
}

// Value 返回版本号数值
func (s SyncVersion) Value() uint8 {
	return s.v
}

// Int 返回 int 形式的版本号（便于存储层扫描/写入）
func (s SyncVersion) Int() int {
	return int(s.v)
}

func (s SyncVersion) String() string {
	return fmt.Sprintf("v%d", s.v)
}

// Increment 一次递增的结果
//
// Wrapped 为 true 表示本次递增从 255 回绕到了 0，
// 拥有该分类的组件必须在同一步骤中向所有观察者下发强制全量同步。
type Increment struct {
	Version SyncVersion
	Wrapped bool
}

// Increment 递增版本号
func (s SyncVersion) Increment() Increment {
	if s.v == MaxValue {
		return Increment{Version: SyncVersion{v: 0}, Wrapped: true}
	}
	return Increment{Version: SyncVersion{v: s.v + 1}}
}

// ============================================================================
// 客户端版本号
// ============================================================================

// FromClient 客户端上报的最后已知版本号
type FromClient uint8

// NeverSynced 客户端从未同步过
const NeverSynced FromClient = MaxValue

// ClientVersion 从客户端请求参数构造版本号，越界值视为从未同步
func ClientVersion(v int) FromClient {
	if v < 0 || v > MaxValue {
		return NeverSynced
	}
	return FromClient(v)
}

// CheckResult 同步决策
type CheckResult int

const (
	// DoNothing 客户端已是最新
	DoNothing CheckResult = iota
	// Sync 客户端落后，需要下发当前状态
	Sync
	// ResetVersionAndSync 客户端从未同步，需要全量同步并重置客户端侧版本
	ResetVersionAndSync
)

func (r CheckResult) String() string {
	switch r {
	case DoNothing:
		return "do_nothing"
	case Sync:
		return "sync"
	case ResetVersionAndSync:
		return "reset_version_and_sync"
	default:
		return fmt.Sprintf("check_result(%d)", int(r))
	}
}

// Check 根据服务端版本和客户端版本做出同步决策
//
// 该函数是纯函数，不修改任何状态。
func Check(stored SyncVersion, client FromClient) CheckResult {
	if client == NeverSynced {
		return ResetVersionAndSync
	}
	if uint8(client) == stored.v {
		return DoNothing
	}
	return Sync
}
