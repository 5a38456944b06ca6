// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/accounts-syncd/
//     - dev/test → ./configs/
package config

import (
	"time"

	"accounts-syncd/internal/shared/cache"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer  APIServerConfig  `yaml:"api_server"` // HTTP/WebSocket 监听
	Database   DatabaseConfig   `yaml:"database"`   // 持久化存储
	Redis      RedisConfig      `yaml:"redis"`      // 推送中继（可选）
	MinIO      MinIOConfig      `yaml:"minio"`      // 对象存储（可选）
	Features   cache.Features   `yaml:"features"`   // 子缓存开关
	Processing ProcessingConfig `yaml:"processing"` // 内容处理
	Writer     WriterConfig     `yaml:"writer"`     // 写协调器
	Events     EventsConfig     `yaml:"events"`     // 事件分发
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" 或 "postgres"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`      // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"`    // 直接指定 URL（优先于 host/port/db）
	Stream   string `yaml:"stream"` // 推送中继 Stream 名称
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000，为空时使用本地目录
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	LocalDir  string `yaml:"local_dir"` // 未配置 endpoint 时的本地存储目录
}

// ProcessingConfig 内容处理配置
type ProcessingConfig struct {
	Workers     int           `yaml:"workers"`      // 处理 worker 数量
	TmpDir      string        `yaml:"tmp_dir"`      // 上传临时文件目录
	MaxSize     int64         `yaml:"max_size"`     // 单个上传的最大字节数
	UploadLimit int           `yaml:"upload_limit"` // 每个账号的上传突发上限，每个 upload_every 补满
	UploadEvery time.Duration `yaml:"upload_every"` // 令牌补满周期

	AllowedTypes []string `yaml:"allowed_types"` // 允许的内容类型前缀，为空表示不限制
}

// WriterConfig 写协调器配置
type WriterConfig struct {
	BlockingWorkers int           `yaml:"blocking_workers"` // 阻塞型写操作的专用 worker 数量
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 关闭时等待在途写操作的上限
}

// EventsConfig 事件分发配置
type EventsConfig struct {
	ChannelCapacity int `yaml:"channel_capacity"` // 每个连接的事件通道容量
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "sqlite" 或 "postgres"
	DatabaseURL    string
	RedisURL       string // 为空表示不启用推送中继
	RedisStream    string
	APIPort        string
	MinIO          MinIOConfig
	Features       cache.Features
	Processing     ProcessingConfig
	Writer         WriterConfig
	Events         EventsConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
