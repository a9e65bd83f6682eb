package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	ServiceName        string        `env:"SERVICE_NAME" envDefault:"newsdesk"`
	HTTPPort           string        `env:"PORT" envDefault:"8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// 鉴权配置
	AuthEnabled bool     `env:"AUTH_ENABLED" envDefault:"true"`
	JWTSecret   string   `env:"JWT_SECRET"`
	JWKSURL     string   `env:"JWKS_URL"`
	APIKeys     []string `env:"API_KEYS" envSeparator:","` // 服务间调用使用，视为 ADMIN

	// 本地存储
	LocalStorageDir     string `env:"LOCAL_STORAGE_DIR" envDefault:"./uploads"`
	LocalPublicBaseURL  string `env:"LOCAL_PUBLIC_BASE_URL"`
	LocalStaticPrefix   string `env:"LOCAL_STATIC_PREFIX" envDefault:"/uploads/"`
	MetadataCacheSize   int    `env:"METADATA_CACHE_SIZE" envDefault:"2048"`
	LegacyImageMaxWidth int    `env:"LEGACY_IMAGE_MAX_WIDTH" envDefault:"1600"`

	// 对象存储（S3 兼容）
	ObjectStorageDriver    string `env:"OBJECT_STORAGE_DRIVER" envDefault:"s3"` // "s3" 或 "minio"
	ObjectStorageAccountID string `env:"OBJECT_STORAGE_ACCOUNT_ID"`
	ObjectStorageRegion    string `env:"OBJECT_STORAGE_REGION" envDefault:"auto"`
	ObjectStorageAccessKey string `env:"OBJECT_STORAGE_ACCESS_KEY_ID"`
	ObjectStorageSecretKey string `env:"OBJECT_STORAGE_SECRET_ACCESS_KEY"`
	ObjectStorageBucket    string `env:"OBJECT_STORAGE_BUCKET"`
	ObjectStorageEndpoint  string `env:"OBJECT_STORAGE_ENDPOINT"`
	ObjectStoragePublicURL string `env:"OBJECT_STORAGE_PUBLIC_URL"`
	ObjectStorageUseSSL    bool   `env:"OBJECT_STORAGE_USE_SSL" envDefault:"true"`

	// 数据库（可选，记录上传的媒体目录）
	DBEnabled         bool   `env:"DB_ENABLED" envDefault:"false"`
	DBHost            string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort            int    `env:"DB_PORT" envDefault:"5432"`
	DBUser            string `env:"DB_USER" envDefault:"newsdesk"`
	DBPassword        string `env:"DB_PASSWORD" envDefault:"newsdesk"`
	DBName            string `env:"DB_NAME" envDefault:"newsdesk"`
	DBSSLMode         string `env:"DB_SSL_MODE" envDefault:"disable"`
	DBMaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBConnectAttempts int    `env:"DB_CONNECT_ATTEMPTS" envDefault:"3"`

	// 外部协作方
	GraphQLEndpoint string        `env:"GRAPHQL_ENDPOINT"`
	GraphQLToken    string        `env:"GRAPHQL_TOKEN"`
	GraphQLTimeout  time.Duration `env:"GRAPHQL_TIMEOUT" envDefault:"15s"`
	NATSURL         string        `env:"NATS_URL"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
}

// Load 从环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)
	cfg.APIKeys = cleanList(cfg.APIKeys)
	cfg.ObjectStorageDriver = strings.ToLower(strings.TrimSpace(cfg.ObjectStorageDriver))
	cfg.ObjectStorageAccountID = strings.TrimSpace(cfg.ObjectStorageAccountID)
	cfg.ObjectStorageAccessKey = strings.TrimSpace(cfg.ObjectStorageAccessKey)
	cfg.ObjectStorageSecretKey = strings.TrimSpace(cfg.ObjectStorageSecretKey)
	cfg.ObjectStorageBucket = strings.TrimSpace(cfg.ObjectStorageBucket)
	cfg.ObjectStorageEndpoint = strings.TrimSpace(cfg.ObjectStorageEndpoint)
	cfg.ObjectStoragePublicURL = strings.TrimRight(strings.TrimSpace(cfg.ObjectStoragePublicURL), "/")

	switch cfg.ObjectStorageDriver {
	case "s3", "minio":
	default:
		return nil, fmt.Errorf("OBJECT_STORAGE_DRIVER 不支持: %q", cfg.ObjectStorageDriver)
	}
	if cfg.RateLimitRequests < 0 {
		cfg.RateLimitRequests = 0
	}
	if cfg.MetadataCacheSize <= 0 {
		cfg.MetadataCacheSize = 2048
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" && cfg.JWKSURL == "" && len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("AUTH_ENABLED 为 true 时需要 JWT_SECRET、JWKS_URL 或 API_KEYS 之一")
	}

	if err := ensureDir(cfg.LocalStorageDir); err != nil {
		return nil, fmt.Errorf("确保存储目录失败: %w", err)
	}

	return cfg, nil
}

// ObjectStorageConfigured 报告对象存储所需的配置是否齐全。
// 缺失时对象存储路由直接返回配置错误，而不会发起任何网络请求。
func (c *Config) ObjectStorageConfigured() bool {
	if c.ObjectStorageAccessKey == "" || c.ObjectStorageSecretKey == "" || c.ObjectStorageBucket == "" {
		return false
	}
	if c.ObjectStorageDriver == "minio" {
		return c.ObjectStorageEndpoint != ""
	}
	return c.ObjectStorageEndpoint != "" || c.ObjectStorageAccountID != ""
}

// MissingObjectStorageSettings 列出尚未配置的对象存储环境变量，用于启动日志。
func (c *Config) MissingObjectStorageSettings() []string {
	var missing []string
	if c.ObjectStorageAccessKey == "" {
		missing = append(missing, "OBJECT_STORAGE_ACCESS_KEY_ID")
	}
	if c.ObjectStorageSecretKey == "" {
		missing = append(missing, "OBJECT_STORAGE_SECRET_ACCESS_KEY")
	}
	if c.ObjectStorageBucket == "" {
		missing = append(missing, "OBJECT_STORAGE_BUCKET")
	}
	if c.ObjectStorageEndpoint == "" && (c.ObjectStorageDriver == "minio" || c.ObjectStorageAccountID == "") {
		missing = append(missing, "OBJECT_STORAGE_ENDPOINT")
	}
	return missing
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// Addr 返回 HTTP 监听地址。
func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
