// 文件: pkg/config/config.go
// 进程配置: 默认值 < .env 文件 < 环境变量
//
// MySQL 与 Redis 为必选依赖; NATS (私有推送) 与 Kafka (成交行情流)
// 不配置则对应功能降级关闭, 交易核心不受影响。
// 使用开源库: github.com/joho/godotenv

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Database struct {
	DSN string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Nats struct {
	URL string // 为空禁用私有频道推送
}

type Kafka struct {
	Brokers []string // 为空禁用成交行情流
	GroupID string
}

type Auth struct {
	JWTSecret string
}

type Server struct {
	Addr           string
	AllowedOrigins []string
}

type Config struct {
	Database Database
	Redis    Redis
	Nats     Nats
	Kafka    Kafka
	Auth     Auth
	Server   Server

	// SnowflakeNode 多实例部署时每实例唯一 (0-1023)
	SnowflakeNode int64
	// LogFile 非空时日志同时落盘
	LogFile string
}

func Default() Config {
	return Config{
		Database: Database{
			DSN: "root:123456@tcp(127.0.0.1:3307)/spotex?charset=utf8mb4&parseTime=True&loc=Local",
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Kafka: Kafka{
			GroupID: "spotex-market",
		},
		Auth: Auth{
			JWTSecret: "dev-secret-change-me",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

// Load 读取配置, envPath 为空时尝试当前目录 .env
func Load(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Database.DSN = getEnv("MYSQL_DSN", cfg.Database.DSN)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.Redis.DB = n
		}
	}

	cfg.Nats.URL = getEnv("NATS_URL", cfg.Nats.URL)
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = splitList(raw)
	}
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		cfg.Server.AllowedOrigins = splitList(raw)
	}

	if raw := os.Getenv("SNOWFLAKE_NODE"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.SnowflakeNode = n
		}
	}
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList 逗号分隔列表, 去空白去空项
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
