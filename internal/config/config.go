// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env.{env} 加载敏感信息（密码、密钥）
//  2. 根据 APP_ENV 加载对应的 {env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/model"
)

// Load 加载配置
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg, err := loadYAMLConfig(env)
	if err != nil {
		return nil, err
	}

	dbPassword := firstEnv("DB_PASSWORD", "POSTGRES_PASSWORD")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	yamlCfg.MinIO.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")

	databaseURL := getEnv("DATABASE_URL", "")
	driver := detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL)
	yamlCfg.Database.Driver = driver
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(yamlCfg.Database, dbPassword)
	}

	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" && yamlCfg.Redis.Enabled {
		redisURL = buildRedisURL(yamlCfg.Redis)
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		RedisURL:       redisURL,
		RedisStream:    yamlCfg.Redis.Stream,
		APIPort:        getEnv("API_PORT", yamlCfg.APIServer.Port),
		MinIO:          yamlCfg.MinIO,
		Features:       yamlCfg.Features,
		Processing:     yamlCfg.Processing,
		Writer:         yamlCfg.Writer,
		Events:         yamlCfg.Events,
		ConfigFilePath: yamlCfg.loadedFrom,
	}
	if v := os.Getenv("PROCESSING_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processing.Workers = n
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Host:    "localhost",
			Port:    5432,
			User:    "syncd",
			Name:    "accounts_syncd",
			SSLMode: "disable",
		},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, Stream: "syncd:push"},
		MinIO:    MinIOConfig{Bucket: "accounts-content", LocalDir: "/var/lib/accounts-syncd/content"},
		Features: cache.AllFeatures(),
		Processing: ProcessingConfig{
			Workers:     2,
			TmpDir:      os.TempDir(),
			MaxSize:     10 << 20,
			UploadLimit: 30,
			UploadEvery: time.Minute,

			AllowedTypes: []string{"image/"},
		},
		Writer: WriterConfig{BlockingWorkers: 4, ShutdownTimeout: 30 * time.Second},
		Events: EventsConfig{ChannelCapacity: model.EventChannelCapacity},
	}
}

// loadYAMLConfig 加载 YAML 配置文件：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) (*yamlConfigInternal, error) {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	path := findConfigFile(env)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.loadedFrom = path
	log.Printf("[Config] Loaded %s", path)
	return cfg, nil
}

// validate 验证并填充默认值
func (c *Config) validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("unsupported database driver: %q", c.DatabaseDriver)
	}
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 1
	}
	if c.Processing.TmpDir == "" {
		c.Processing.TmpDir = os.TempDir()
	}
	if c.Processing.MaxSize <= 0 {
		c.Processing.MaxSize = 10 << 20
	}
	if c.Processing.UploadEvery <= 0 {
		c.Processing.UploadEvery = time.Minute
	}
	if c.Writer.BlockingWorkers <= 0 {
		c.Writer.BlockingWorkers = 1
	}
	if c.Writer.ShutdownTimeout <= 0 {
		c.Writer.ShutdownTimeout = 30 * time.Second
	}
	if c.Events.ChannelCapacity <= 0 {
		c.Events.ChannelCapacity = model.EventChannelCapacity
	}
	if c.RedisStream == "" {
		c.RedisStream = "syncd:push"
	}
	if c.MinIO.Endpoint != "" && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("minio endpoint %s configured without credentials", c.MinIO.Endpoint)
	}
	return nil
}
