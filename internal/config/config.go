package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 OpenAgora 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	JobQueue QueueConfig    `json:"job_queue"`
	Market   MarketConfig   `json:"market"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制指标服务的监听地址。为空时不单独启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述智能体目录、账本与任务存储的后端。
type StorageConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	JobRetries int    `json:"job_retries"`
}

// QueueConfig 描述任务队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MarketConfig 描述市场撮合与结算的运行参数。
type MarketConfig struct {
	// DispatchTimeoutSeconds 限定对卖方端点单次调用的时长。
	DispatchTimeoutSeconds int `json:"dispatch_timeout_seconds"`
	// DefaultProfile 是未显式指定权重时采用的命名画像。
	DefaultProfile string `json:"default_profile"`
	// ProfilesPath 指向权重画像的 YAML 定义文件。
	ProfilesPath string `json:"profiles_path"`
	// SeedAgentsPath 指向启动时注册的种子智能体 YAML 文件。
	SeedAgentsPath string `json:"seed_agents_path"`
	// Wallets 是启动时注入的买方钱包初始余额。
	Wallets map[string]float64 `json:"wallets"`
}

// LoggingConfig 控制全局日志行为。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       Audit    `json:"audit"`
}

// Audit 控制审计日志的落盘与轮转。
type Audit struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// DispatchTimeout 返回派发超时时间。
func (m MarketConfig) DispatchTimeout() time.Duration {
	if m.DispatchTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.DispatchTimeoutSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.JobRetries <= 0 {
		c.Storage.JobRetries = 3
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Worker <= 0 {
		c.JobQueue.Worker = 4
	}

	if c.Market.DispatchTimeoutSeconds <= 0 {
		c.Market.DispatchTimeoutSeconds = 30
	}
	if c.Market.DefaultProfile == "" {
		c.Market.DefaultProfile = "balanced"
	}
	if c.Market.ProfilesPath != "" && !filepath.IsAbs(c.Market.ProfilesPath) {
		c.Market.ProfilesPath = filepath.Join(baseDir, c.Market.ProfilesPath)
	}
	if c.Market.SeedAgentsPath != "" && !filepath.IsAbs(c.Market.SeedAgentsPath) {
		c.Market.SeedAgentsPath = filepath.Join(baseDir, c.Market.SeedAgentsPath)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
