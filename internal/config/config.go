package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env          string             `yaml:"env" env-default:"development"` // environment
	HTTPServer   HTTPServerConfig   `yaml:"http_server"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Migrations   MigrationsConfig   `yaml:"migrations"`
	TipTopPay    TipTopPayConfig    `yaml:"tiptoppay"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	GuestCleanup GuestCleanupConfig `yaml:"guest_cleanup"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// TipTopPayConfig платёжный шлюз
type TipTopPayConfig struct {
	PublicID string        `yaml:"public_id" env:"TIP_TOP_PUBLIC_ID"`
	APIKey   string        `yaml:"-" env:"TIP_TOP_API_KEY"`
	APIURL   string        `yaml:"api_url" env-default:"https://api.tiptoppay.kz/v1"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
	// EnforceSignature - отклонять уведомления с неверной подписью
	EnforceSignature bool `yaml:"enforce_signature" env-default:"false"`
}

// KafkaConfig пустой список брокеров отключает публикацию событий
type KafkaConfig struct {
	Brokers string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string `yaml:"topic" env-default:"orders.events"`
}

// RedisConfig хранилище ключей идемпотентности; пустой адрес отключает его
type RedisConfig struct {
	Addr           string        `yaml:"addr" env:"REDIS_ADDR"`
	Password       string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env-default:"0"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env-default:"24h"`
}

type GuestCleanupConfig struct {
	Interval time.Duration `yaml:"interval" env-default:"24h"`
	MaxAge   time.Duration `yaml:"max_age" env-default:"720h"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic(fmt.Sprintf("can't read config file %s: %v", configPath, err))
	}
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", configPath, err))
	}

	return &cfg
}

func (c *Config) validate() error {
	if c.GuestCleanup.Interval <= 0 {
		return fmt.Errorf("guest_cleanup.interval must be positive, got %s", c.GuestCleanup.Interval)
	}
	if c.GuestCleanup.MaxAge <= 0 {
		return fmt.Errorf("guest_cleanup.max_age must be positive, got %s", c.GuestCleanup.MaxAge)
	}
	return nil
}
