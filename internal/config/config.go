package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config qtable-tenant（租户隔离核心）配置
type Config struct {
	HTTP struct {
		Addr string
	}

	DBEnabled bool
	Database  DatabaseConfig

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}

	Log struct {
		Level  string
		Format string
	}

	Resolver struct {
		TTLSeconds         int
		NegativeTTLSeconds int
		FailClosed         bool
		BypassHosts        []string
	}

	Lifecycle struct {
		GracePeriodDays   int
		PurgeWindowDays   int
		PurgeIntervalHrs  int
		SchedulerDisabled bool
	}

	Commerce CommerceConfig

	// SeedSysadmin 本地开发引导：启动时播种一个 SuperAdmin 会话
	SeedSysadmin string
}

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN lib/pq 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// CommerceConfig 商城引擎 Admin API 配置
type CommerceConfig struct {
	APIURL              string
	APIToken            string
	DefaultChannelToken string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// 本地 `go run` 没有数据库时退回内存仓库，避免起不来
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "qtable")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "true") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Resolver.TTLSeconds = parseInt(getEnv("RESOLVER_TTL_SECONDS", "60"), 60)
	cfg.Resolver.NegativeTTLSeconds = parseInt(getEnv("RESOLVER_NEGATIVE_TTL_SECONDS", "10"), 10)
	cfg.Resolver.FailClosed = getEnv("RESOLVER_FAIL_CLOSED", "false") == "true"
	cfg.Resolver.BypassHosts = splitList(getEnv("BYPASS_HOSTS", "localhost,127.0.0.1"))

	cfg.Lifecycle.GracePeriodDays = parseInt(getEnv("GRACE_PERIOD_DAYS", "30"), 30)
	cfg.Lifecycle.PurgeWindowDays = parseInt(getEnv("PURGE_WINDOW_DAYS", "90"), 90)
	cfg.Lifecycle.PurgeIntervalHrs = parseInt(getEnv("PURGE_INTERVAL_HOURS", "24"), 24)
	cfg.Lifecycle.SchedulerDisabled = getEnv("PURGE_SCHEDULER_DISABLED", "false") == "true"

	cfg.Commerce.APIURL = getEnv("COMMERCE_API_URL", "http://localhost:3000")
	cfg.Commerce.APIToken = getEnv("COMMERCE_API_TOKEN", "")
	cfg.Commerce.DefaultChannelToken = getEnv("DEFAULT_CHANNEL_TOKEN", "")

	cfg.SeedSysadmin = getEnv("SEED_SYSADMIN", "")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
