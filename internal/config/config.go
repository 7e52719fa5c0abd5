package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义邮箱生命周期的核心业务配置
type MailboxConfig struct {
	AllowedDomains []string      // 允许开通邮箱的域名列表
	DefaultTTL     time.Duration // 邮箱默认生存时间，默认 24h
	CleanupGrace   time.Duration // expired 到硬删除之间的宽限期，默认 24h
	CodeCacheTTL   time.Duration // 最新验证码的缓存时间，默认 1h
}

// AdminAPIConfig 定义远程邮件服务器管理 API 的访问配置
type AdminAPIConfig struct {
	BaseURL   string        // 管理 API 根地址，如 "https://mail.example.com/api/v1"
	Token     string        // Bearer 认证令牌
	Timeout   time.Duration // 单次请求超时，默认 10s
	RateLimit float64       // 每秒请求数上限，默认 20
}

// SchedulerConfig 定义周期任务的触发间隔与并发度
type SchedulerConfig struct {
	ScanInterval    time.Duration // 全量扫描间隔，默认 30s
	SyncInterval    time.Duration // 远程数据同步间隔，默认 5m
	StatsInterval   time.Duration // 统计刷新间隔，默认 5m
	CleanupInterval time.Duration // 过期清理间隔，默认 24h
	ScanConcurrency int           // 同时扫描的邮箱数上限，默认 8
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig    // HTTP 服务器配置
	Mailbox   MailboxConfig   // 邮箱生命周期配置
	AdminAPI  AdminAPIConfig  // 远程管理 API 配置
	Scheduler SchedulerConfig // 周期任务配置
	CORS      CORSConfig      // 跨域配置
	Log       LogConfig       // 日志配置
	Database  DatabaseConfig  // 数据库配置
	Redis     RedisConfig     // Redis 配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPCODE_
// 例如: TEMPCODE_ADMIN_API_BASE_URL, TEMPCODE_DATABASE_DSN
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("tempcode")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.allowed_domains", "temp.mail")
	viper.SetDefault("mailbox.default_ttl", "24h")
	viper.SetDefault("mailbox.cleanup_grace", "24h")
	viper.SetDefault("mailbox.code_cache_ttl", "1h")
	viper.SetDefault("admin_api.base_url", "")
	viper.SetDefault("admin_api.token", "")
	viper.SetDefault("admin_api.timeout", "10s")
	viper.SetDefault("admin_api.rate_limit", 20.0)
	viper.SetDefault("scheduler.scan_interval", "30s")
	viper.SetDefault("scheduler.sync_interval", "5m")
	viper.SetDefault("scheduler.stats_interval", "5m")
	viper.SetDefault("scheduler.cleanup_interval", "24h")
	viper.SetDefault("scheduler.scan_concurrency", 8)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	defaultTTL, err := time.ParseDuration(viper.GetString("mailbox.default_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.default_ttl: %w", err)
	}

	cleanupGrace, err := time.ParseDuration(viper.GetString("mailbox.cleanup_grace"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.cleanup_grace: %w", err)
	}

	codeCacheTTL, err := time.ParseDuration(viper.GetString("mailbox.code_cache_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.code_cache_ttl: %w", err)
	}

	domainList := parseDomains(viper.GetString("mailbox.allowed_domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.allowed_domains must not be empty")
	}

	adminTimeout, err := time.ParseDuration(viper.GetString("admin_api.timeout"))
	if err != nil {
		adminTimeout = 10 * time.Second
	}

	scanInterval := parseDurationOr(viper.GetString("scheduler.scan_interval"), 30*time.Second)
	syncInterval := parseDurationOr(viper.GetString("scheduler.sync_interval"), 5*time.Minute)
	statsInterval := parseDurationOr(viper.GetString("scheduler.stats_interval"), 5*time.Minute)
	cleanupInterval := parseDurationOr(viper.GetString("scheduler.cleanup_interval"), 24*time.Hour)

	scanConcurrency := viper.GetInt("scheduler.scan_concurrency")
	if scanConcurrency <= 0 {
		scanConcurrency = 8
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			AllowedDomains: domainList,
			DefaultTTL:     defaultTTL,
			CleanupGrace:   cleanupGrace,
			CodeCacheTTL:   codeCacheTTL,
		},
		AdminAPI: AdminAPIConfig{
			BaseURL:   strings.TrimRight(viper.GetString("admin_api.base_url"), "/"),
			Token:     viper.GetString("admin_api.token"),
			Timeout:   adminTimeout,
			RateLimit: viper.GetFloat64("admin_api.rate_limit"),
		},
		Scheduler: SchedulerConfig{
			ScanInterval:    scanInterval,
			SyncInterval:    syncInterval,
			StatsInterval:   statsInterval,
			CleanupInterval: cleanupInterval,
			ScanConcurrency: scanConcurrency,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// parseDurationOr 解析时长字符串，失败时返回给定默认值
func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 如果文件不存在则静默失败；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
