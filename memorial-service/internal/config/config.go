package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"memorial-server/shared/utils"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config содержит конфигурацию memorial-service.
type Config struct {
	// Сервер
	Port        string   `envconfig:"MEMORIAL_SERVER_PORT" default:"8085"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string   `envconfig:"LOG_ENCODING" default:"json"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"memorials"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	DBPassword    string        `ignored:"true"`

	// Redis (локальный fallback черновиков)
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	FallbackPrefix string        `envconfig:"FALLBACK_KEY_PREFIX" default:"wizard:"`
	FallbackTTL    time.Duration `envconfig:"FALLBACK_TTL" default:"720h"`
	RedisPassword  string        `ignored:"true"`

	// RabbitMQ (пустой URL отключает публикацию уведомлений)
	RabbitMQURL            string `envconfig:"RABBITMQ_URL" default:""`
	ClientUpdatesQueueName string `envconfig:"CLIENT_UPDATES_QUEUE_NAME" default:"memorial_client_updates"`

	// Хранилище медиа
	AssetBackend            string `envconfig:"ASSET_BACKEND" default:"cloudinary"`
	AssetFolder             string `envconfig:"ASSET_FOLDER" default:"memorials"`
	CloudinaryBaseURL       string `envconfig:"CLOUDINARY_BASE_URL" default:"https://api.cloudinary.com/v1_1"`
	CloudinaryCloudName     string `envconfig:"CLOUDINARY_CLOUD_NAME" default:""`
	CloudinaryUploadPreset  string `envconfig:"CLOUDINARY_UPLOAD_PRESET" default:""`
	CloudinaryAPIKey        string `envconfig:"CLOUDINARY_API_KEY" default:""`
	CloudinaryAPISecret     string `ignored:"true"`
	MinioEndpoint           string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioBucket             string `envconfig:"MINIO_BUCKET" default:"memorial-assets"`
	MinioAccessKey          string `envconfig:"MINIO_ACCESS_KEY" default:""`
	MinioUseSSL             bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinioPublicURL          string `envconfig:"MINIO_PUBLIC_URL" default:"http://localhost:9000"`
	MinioSecretKey          string `ignored:"true"`
	ThumbnailTransformation string `envconfig:"THUMBNAIL_TRANSFORMATION" default:"c_fill,w_400,h_400,q_auto,f_auto"`

	// Ограничения загрузок
	MaxImageBytes    int64    `envconfig:"UPLOAD_MAX_IMAGE_BYTES" default:"10485760"`
	MaxVideoBytes    int64    `envconfig:"UPLOAD_MAX_VIDEO_BYTES" default:"104857600"`
	AllowedMIME      []string `envconfig:"UPLOAD_ALLOWED_TYPES" default:"image/,video/"`
	UploadRatePerMin int      `envconfig:"UPLOAD_RATE_PER_MINUTE" default:"60"`
	UploadRateBurst  int      `envconfig:"UPLOAD_RATE_BURST" default:"20"`
	MaxUploadFiles   int      `envconfig:"UPLOAD_MAX_FILES_PER_REQUEST" default:"20"`
	MaxRequestBytes  int64    `envconfig:"UPLOAD_MAX_REQUEST_BYTES" default:"262144000"`
	MaxPendingBytes  int64    `envconfig:"UPLOAD_MAX_PENDING_BYTES_PER_SESSION" default:"524288000"`

	// Лимит дорогих запросов (загрузки, сохранение, публикация) на сессию.
	MutationRatePerMin int `envconfig:"MUTATION_RATE_PER_MINUTE" default:"30"`

	// Повторы и таймауты
	UploadAttempts   int           `envconfig:"UPLOAD_RETRY_ATTEMPTS" default:"3"`
	UploadRetryDelay time.Duration `envconfig:"UPLOAD_RETRY_DELAY" default:"2s"`
	DeleteAttempts   int           `envconfig:"DELETE_RETRY_ATTEMPTS" default:"2"`
	PublishAttempts  int           `envconfig:"PUBLISH_RETRY_ATTEMPTS" default:"3"`
	AutosaveAttempts int           `envconfig:"AUTOSAVE_RETRY_ATTEMPTS" default:"2"`
	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"500ms"`
	NetworkTimeout   time.Duration `envconfig:"NETWORK_TIMEOUT" default:"30s"`

	// Сессии мастера
	AutosaveDebounce time.Duration `envconfig:"AUTOSAVE_DEBOUNCE" default:"2s"`
	SessionTTL       time.Duration `envconfig:"WIZARD_SESSION_TTL" default:"2h"`
	PreviewBaseURL   string        `envconfig:"PREVIEW_BASE_URL" default:"/api/v1/wizard/previews"`

	JWTSecret string `ignored:"true"`
}

// GetDSN возвращает строку подключения к PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig читает переменные окружения и секреты из /run/secrets.
// Для локальной разработки секреты можно передать переменными окружения
// с тем же именем в верхнем регистре (DB_PASSWORD, JWT_SECRET ...).
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load memorial-service config: %w", err)
	}

	cfg.DBPassword = secret("db_password")
	cfg.RedisPassword = secret("redis_password")
	cfg.CloudinaryAPISecret = secret("cloudinary_api_secret")
	cfg.MinioSecretKey = secret("minio_secret_key")
	cfg.JWTSecret = secret("jwt_secret")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}

	switch cfg.AssetBackend {
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryUploadPreset == "" {
			return nil, fmt.Errorf("CLOUDINARY_CLOUD_NAME and CLOUDINARY_UPLOAD_PRESET are required for the cloudinary backend")
		}
	case "minio":
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return nil, fmt.Errorf("MINIO_ACCESS_KEY and minio_secret_key are required for the minio backend")
		}
	default:
		return nil, fmt.Errorf("unknown ASSET_BACKEND %q", cfg.AssetBackend)
	}
	return &cfg, nil
}

// LogSummary печатает конфигурацию без секретов.
func (c *Config) LogSummary(log *zap.Logger) {
	log.Info("Memorial service configuration loaded",
		zap.String("port", c.Port),
		zap.String("logLevel", c.LogLevel),
		zap.String("db", fmt.Sprintf("postgres://%s:***@%s:%s/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)),
		zap.String("redis", c.RedisAddr),
		zap.Bool("rabbitmq", c.RabbitMQURL != ""),
		zap.String("assetBackend", c.AssetBackend),
		zap.Int64("maxImageBytes", c.MaxImageBytes),
		zap.Int64("maxVideoBytes", c.MaxVideoBytes),
		zap.Int("uploadAttempts", c.UploadAttempts),
		zap.Duration("uploadRetryDelay", c.UploadRetryDelay),
		zap.Duration("networkTimeout", c.NetworkTimeout),
		zap.Duration("autosaveDebounce", c.AutosaveDebounce),
		zap.Duration("sessionTTL", c.SessionTTL),
	)
}

func secret(name string) string {
	return utils.SecretOr(name, os.Getenv(strings.ToUpper(name)))
}
