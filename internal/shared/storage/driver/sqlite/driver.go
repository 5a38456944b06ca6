// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// SQLite 同一时刻只允许一个写者，写入由 writer.Coordinator 串行化。
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"accounts-syncd/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumns string, updateExprs []string) string {
	return dbutil.OnConflictDoUpdate(conflictColumns, updateExprs)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// pragmas 每个连接都需要的设置
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:/var/lib/accounts-syncd/syncd.db" 或 ":memory:"
//
// 连接池固定为一个连接：写入本来就由 writer.Coordinator 串行化，
// 内存数据库的多个连接还会各自拥有独立的库。
func Open(dsn string) (*sql.DB, error) {
	memory := isMemoryDSN(dsn)
	if !memory {
		dsn = withPragmas(dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	if memory {
		for _, p := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withPragmas 以 _pragma 查询参数的形式附加连接级设置，保证连接池中每个连接都生效
func withPragmas(dsn string) string {
	params := url.Values{}
	for _, p := range pragmas {
		params.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + params.Encode()
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 驱动中的 schema）
const schema = `
-- accounts
CREATE TABLE IF NOT EXISTS accounts (
    id VARCHAR(64) PRIMARY KEY,
    created_at DATETIME DEFAULT (datetime('now'))
);

-- profiles
CREATE TABLE IF NOT EXISTS profiles (
    account_id VARCHAR(64) PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
    name VARCHAR(200) DEFAULT '',
    text TEXT DEFAULT '',
    visible INTEGER DEFAULT 0,
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- sync_versions
CREATE TABLE IF NOT EXISTS sync_versions (
    account_id VARCHAR(64) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    category VARCHAR(32) NOT NULL,
    version INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (account_id, category)
);

-- content
CREATE TABLE IF NOT EXISTS content (
    id VARCHAR(64) PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    slot INTEGER NOT NULL,
    content_type VARCHAR(100),
    size INTEGER DEFAULT 0,
    checksum VARCHAR(128),
    created_at DATETIME DEFAULT (datetime('now')),
    UNIQUE (account_id, slot)
);
`
