package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

// Config определяет структуру конфигурации всего приложения целиком
type Config struct {
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	Kafka      `yaml:"kafka"`
	Logger     `yaml:"logger"`
	Reorder    `yaml:"reorder"`
	Cache      `yaml:"cache"`
	Catalog    `yaml:"catalog"`
}

// HTTPServer содержит конфигурацию для HTTP-сервера
type HTTPServer struct {
	Port    string        `yaml:"port" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
}

// Postgres содержит конфигурацию для подключения к базе данных
type Postgres struct {
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Host     string `yaml:"host" validate:"required"`
	Port     string `yaml:"port" validate:"required"`
	DBName   string `yaml:"db_name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Redis содержит конфигурацию кэша карточек товаров и блокировок
// пустой адрес отключает redis
type Redis struct {
	Address    string        `yaml:"address"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	ProductTTL time.Duration `yaml:"product_ttl"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

// Kafka содержит конфигурацию для подключения к кафке
type Kafka struct {
	Brokers            []string `yaml:"brokers" validate:"required,gt=0"`
	GroupID            string   `yaml:"group_id" validate:"required"`
	OrdersTopic        string   `yaml:"orders_topic" validate:"required"`
	ProductEventsTopic string   `yaml:"product_events_topic"`
	ReorderTopic       string   `yaml:"reorder_topic"`
}

// Logger содержит конфигурацию для логгера
type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Reorder описывает политику стоимости доставки при повторном заказе
// policy: original — как в исходном заказе, flat — фиксированная, threshold — бесплатно от порога
type Reorder struct {
	DeliveryFeePolicy     string `yaml:"delivery_fee_policy" validate:"omitempty,oneof=original flat threshold"`
	DeliveryFee           string `yaml:"delivery_fee"`
	FreeDeliveryThreshold string `yaml:"free_delivery_threshold"`
}

// Cache содержит настройки кэша запросов
type Cache struct {
	InvalidateCooldown time.Duration `yaml:"invalidate_cooldown"`
	RefetchTimeout     time.Duration `yaml:"refetch_timeout"`
	IdleTTL            time.Duration `yaml:"idle_ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MaxEntries         int           `yaml:"max_entries" validate:"gte=0"`
}

// Catalog содержит настройки пакетной загрузки товаров
type Catalog struct {
	BatchWait     time.Duration `yaml:"batch_wait"`
	BatchCapacity int           `yaml:"batch_capacity"`
}

// Fee разбирает фиксированную стоимость доставки
func (r Reorder) Fee() (decimal.Decimal, error) {
	return parseMoney("delivery_fee", r.DeliveryFee)
}

// Threshold разбирает порог бесплатной доставки
func (r Reorder) Threshold() (decimal.Decimal, error) {
	return parseMoney("free_delivery_threshold", r.FreeDeliveryThreshold)
}

func parseMoney(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: invalid %s %q: %w", name, value, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: %s must not be negative", name)
	}
	return d, nil
}

// MustLoad загружает конфигурацию из файла, путь берётся из CONFIG_PATH
// в случае ошибки программа завершается с фатальной ошибкой
func MustLoad() *Config {
	// .env не обязателен, поэтому ошибку игнорируем
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load читает и проверяет конфигурацию, подставляя значения по умолчанию
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(file)
}

// Parse разбирает yaml-конфигурацию
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.setDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Reorder.Fee(); err != nil {
		return nil, err
	}
	if _, err := cfg.Reorder.Threshold(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTPServer.Timeout == 0 {
		c.HTTPServer.Timeout = 5 * time.Second
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Redis.ProductTTL == 0 {
		c.Redis.ProductTTL = 5 * time.Minute
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "INFO"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Reorder.DeliveryFeePolicy == "" {
		c.Reorder.DeliveryFeePolicy = "original"
	}
	// наблюдаемое значение по умолчанию — 5 секунд
	if c.Cache.InvalidateCooldown == 0 {
		c.Cache.InvalidateCooldown = 5 * time.Second
	}
	if c.Cache.RefetchTimeout == 0 {
		c.Cache.RefetchTimeout = 3 * time.Second
	}
	if c.Cache.IdleTTL == 0 {
		c.Cache.IdleTTL = 10 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Catalog.BatchWait == 0 {
		c.Catalog.BatchWait = 2 * time.Millisecond
	}
	if c.Catalog.BatchCapacity == 0 {
		c.Catalog.BatchCapacity = 100
	}
}
