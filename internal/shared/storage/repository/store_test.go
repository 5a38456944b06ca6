// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层的读写和事务语义。
package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/storage"
	"accounts-syncd/internal/shared/storage/dbutil"
	sqlitedriver "accounts-syncd/internal/shared/storage/driver/sqlite"
	"accounts-syncd/internal/shared/syncversion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAccount(t *testing.T, s *Store, id model.AccountID) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(tx *Tx) error {
		return tx.CreateAccount(context.Background(), &model.Account{ID: id})
	}))
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
	assert.Equal(t, "ON CONFLICT (a, b) DO UPDATE SET x = EXCLUDED.x",
		d.UpsertConflict("a, b", []string{"x = EXCLUDED.x"}))
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	// 应去除 PG 类型转换
	assert.Equal(t, "UPDATE t SET status = ? WHERE id = ?",
		d.Rebind("UPDATE t SET status = $1::varchar WHERE id = $2"))
}

func TestParseDriverType(t *testing.T) {
	tests := []struct {
		in      string
		want    dbutil.DriverType
		wantErr bool
	}{
		{"sqlite", dbutil.DriverSQLite, false},
		{"SQLite3", dbutil.DriverSQLite, false},
		{"postgres", dbutil.DriverPostgres, false},
		{"pgx", dbutil.DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dbutil.ParseDriverType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ============================================================================
// Account 测试
// ============================================================================

func TestCreateAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createAccount(t, s, "acc-1")

	got, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.AccountID("acc-1"), got.ID)

	// 每个分类都初始化为 0
	versions, err := s.ListSyncVersions(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, versions, len(syncversion.Categories()))
	for _, c := range syncversion.Categories() {
		assert.Equal(t, uint8(0), versions[c].Value(), "category %s", c)
	}

	profile, err := s.GetProfile(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.False(t, profile.Visible)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	s := newTestStore(t)
	createAccount(t, s, "acc-1")

	err := s.Transaction(context.Background(), func(tx *Tx) error {
		return tx.CreateAccount(context.Background(), &model.Account{ID: "acc-1"})
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicate))
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAccount(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAccounts(t *testing.T) {
	s := newTestStore(t)
	createAccount(t, s, "acc-b")
	createAccount(t, s, "acc-a")

	accounts, err := s.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}

// ============================================================================
// 事务语义测试
// ============================================================================

func TestTransaction_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryProfile); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := s.GetSyncVersion(ctx, "acc-1", syncversion.CategoryProfile)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v.Value())
}

func TestTransaction_RollbackOnPanic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	assert.Panics(t, func() {
		_ = s.Transaction(ctx, func(tx *Tx) error {
			if _, err := tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryProfile); err != nil {
				return err
			}
			panic("operation failed")
		})
	})

	v, err := s.GetSyncVersion(ctx, "acc-1", syncversion.CategoryProfile)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v.Value())

	// 回滚后连接仍然可用
	createAccount(t, s, "acc-2")
}

// ============================================================================
// SyncVersion 测试
// ============================================================================

func TestIncrementSyncVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	for i := 1; i <= 3; i++ {
		var inc syncversion.Increment
		require.NoError(t, s.Transaction(ctx, func(tx *Tx) error {
			var err error
			inc, err = tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryMedia)
			return err
		}))
		assert.Equal(t, uint8(i), inc.Version.Value())
		assert.False(t, inc.Wrapped)
	}

	// 其它分类不受影响
	v, err := s.GetSyncVersion(ctx, "acc-1", syncversion.CategoryProfile)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v.Value())
}

func TestIncrementSyncVersion_Wraps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	_, err := s.DB().Exec(`UPDATE sync_versions SET version = 255 WHERE account_id = ? AND category = ?`,
		"acc-1", string(syncversion.CategoryChat))
	require.NoError(t, err)

	var inc syncversion.Increment
	require.NoError(t, s.Transaction(ctx, func(tx *Tx) error {
		inc, err = tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryChat)
		return err
	}))
	assert.True(t, inc.Wrapped)
	assert.Equal(t, uint8(0), inc.Version.Value())
}

func TestSyncVersion_UnknownAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSyncVersion(ctx, "missing", syncversion.CategoryProfile)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.IncrementSyncVersion(ctx, "missing", syncversion.CategoryProfile)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ============================================================================
// Profile 测试
// ============================================================================

func TestUpsertProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Transaction(ctx, func(tx *Tx) error {
		return tx.UpsertProfile(ctx, &model.Profile{
			AccountID: "acc-1",
			Name:      "Alice",
			Text:      "hello",
			Visible:   true,
			UpdatedAt: now,
		})
	}))

	got, err := s.GetProfile(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.Visible)

	missing, err := s.GetProfile(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// ============================================================================
// Content 测试
// ============================================================================

func TestSetSlotContent_ReplacesSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createAccount(t, s, "acc-1")

	put := func(id model.ContentID, slot model.Slot) model.ContentID {
		var replaced model.ContentID
		require.NoError(t, s.Transaction(ctx, func(tx *Tx) error {
			var err error
			replaced, err = tx.SetSlotContent(ctx, &model.Content{
				ID:        id,
				AccountID: "acc-1",
				Slot:      slot,
				Metadata:  model.ContentMetadata{ContentType: "image/png", Size: 12, Checksum: "abc"},
			})
			return err
		}))
		return replaced
	}

	assert.Empty(t, put("c-1", 0))
	assert.Empty(t, put("c-2", 1))
	assert.Equal(t, model.ContentID("c-1"), put("c-3", 0))
	assert.Empty(t, put("c-3", 0), "same id is not a replacement")

	contents, err := s.ListContent(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, model.ContentID("c-3"), contents[0].ID)
	assert.Equal(t, model.Slot(0), contents[0].Slot)
	assert.Equal(t, model.ContentID("c-2"), contents[1].ID)
	assert.Equal(t, "image/png", contents[1].Metadata.ContentType)
	assert.Equal(t, int64(12), contents[1].Metadata.Size)

	got, err := s.GetContent(ctx, "c-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Metadata.Checksum)

	gone, err := s.GetContent(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
