package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	CloudinaryConfig CloudinaryConfig
	RedisConfig      RedisConfig
	MongoConfig      MongoConfig
	NatsConfig       NatsConfig
	LogConfig        LogConfig
	HTTPAddr         string
	WSAddr           string
	AppEnv           string // Окружение приложения
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadFolder string
}

// RedisConfig содержит конфигурацию локального кеша переписки
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	CacheTTL time.Duration
}

// MongoConfig содержит конфигурацию хранилища чатов
type MongoConfig struct {
	URI      string
	Database string
}

// NatsConfig содержит конфигурацию шины событий
type NatsConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
}

// LogConfig содержит настройки логирования
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig загружает переменные из .env
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "flippy_user"),
		Password: getEnv("PGPASSWORD", "flippy_pass"),
		Name:     getEnv("PGDATABASE", "flippy"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
		MaxConns: int32(getEnvInt("PGMAXCONNS", 10)),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	// Явно заданная DATABASE_URL важнее собранной из частей
	if v := os.Getenv("DATABASE_URL"); v != "" {
		dbURL = v
	}

	cloudinaryConfig := CloudinaryConfig{
		CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
		APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
		APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
		UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "flippy_mvp"),
		UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "flippy"),
	}

	redisConfig := RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 30*24*time.Hour),
	}

	mongoConfig := MongoConfig{
		URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		Database: getEnv("MONGO_DATABASE", "flippy"),
	}

	natsConfig := NatsConfig{
		Servers:       splitList(getEnv("NATS_SERVERS", "nats://localhost:4222")),
		Name:          getEnv("NATS_NAME", "flippy-market"),
		ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 500*time.Millisecond),
	}

	cfg := &Config{
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		CloudinaryConfig: cloudinaryConfig,
		RedisConfig:      redisConfig,
		MongoConfig:      mongoConfig,
		NatsConfig:       natsConfig,
		LogConfig: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		WSAddr:   getEnv("WS_ADDR", ":8081"),
		AppEnv:   getEnv("APP_ENV", "production"), // По умолчанию production
	}

	if cfg.TelegramBotToken == "" || cfg.JWTSecret == "" {
		return nil, errors.New("не заданы обязательные переменные окружения TELEGRAM_BOT_TOKEN и JWT_SECRET")
	}

	return cfg, nil
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// splitList разбирает список через запятую, пропуская пустые элементы
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
