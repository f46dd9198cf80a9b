// Package config предоставляет структуры и функции для загрузки конфигурации сервисов.
//
// Конфиг читается из YAML-файла по пути CONFIG_PATH, секреты переопределяются
// переменными окружения (в том числе из .env).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Драйверы хранилища.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Драйверы почты.
const (
	MailDriverSMTP     = "smtp"
	MailDriverPostmark = "postmark"
	MailDriverLog      = "log"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env:"ENV" env-default:"local"`
	AppURL          string `yaml:"app_url" env:"APP_URL" env-default:"http://localhost:8080"`
	Storage         `yaml:"storage"`
	RedisConnection `yaml:"redis_connection"`
	HTTPServer      `yaml:"http_server"`
	JWTToken        `yaml:"jwttoken"`
	Security        `yaml:"security"`
	PaymentGateway  `yaml:"payment_gateway"`
	Webhook         `yaml:"webhook"`
	RabbitMQ        `yaml:"rabbitmq"`
	Mail            `yaml:"mail"`
	Scheduler       `yaml:"scheduler"`
	Plans           []Plan `yaml:"plans"`
}

// Storage выбор и настройки хранилища пользователей и подписок.
type Storage struct {
	Driver                  string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"mongo"`
	MongoURI                string        `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase           string        `yaml:"mongo_database" env-default:"mealplan"`
	MongoConnectTimeout     time.Duration `yaml:"mongo_connect_timeout" env-default:"10s"`
	MongoRetryAttempts      int           `yaml:"mongo_retry_attempts" env-default:"5"`
	MongoRetryInterval      time.Duration `yaml:"mongo_retry_interval" env-default:"2s"`
	StorageConnectionString string        `yaml:"storage_connection_string" env:"POSTGRES_DSN"`
	MigrationsPath          string        `yaml:"migrations_path" env-default:"./migrations"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis  string        `yaml:"addressredis" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `yaml:"password" env:"REDIS_PASSWORD"`
	RedisUser     string        `yaml:"user"`
	RedisDB       int           `yaml:"db"`
	MaxRetries    int           `yaml:"max_retries"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	TimeoutRedis  time.Duration `yaml:"timeoutredis"`
}

// JWTToken настройки выпуска токенов.
// Секреты доступа и обновления обязаны различаться.
type JWTToken struct {
	AccessSecret           string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET"`
	RefreshSecret          string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	AccessTTL              time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL             time.Duration `yaml:"refresh_ttl" env-default:"168h"`
	DisableRefreshRotation bool          `yaml:"disable_refresh_rotation"`
}

// Security параметры хеширования и одноразовых токенов.
type Security struct {
	BcryptCost      int           `yaml:"bcrypt_cost" env-default:"12"`
	VerificationTTL time.Duration `yaml:"verification_ttl" env-default:"24h"`
	ResetTTL        time.Duration `yaml:"reset_ttl" env-default:"10m"`
	AuthRateLimit   float64       `yaml:"auth_rate_limit" env-default:"1"`
	AuthRateBurst   int           `yaml:"auth_rate_burst" env-default:"5"`
}

// PaymentGateway настройки клиента платёжного шлюза.
type PaymentGateway struct {
	GatewayURL       string        `yaml:"url" env-default:"https://api.paystack.co"`
	GatewaySecretKey string        `yaml:"secret_key" env:"PAYSTACK_SECRET_KEY"`
	GatewayTimeout   time.Duration `yaml:"timeout" env-default:"10s"`
	CallbackURL      string        `yaml:"callback_url" env:"PAYMENT_CALLBACK_URL"`
}

// Webhook настройки обработки входящих событий шлюза.
type Webhook struct {
	WebhookSecret  string        `yaml:"secret" env:"WEBHOOK_SECRET"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env-default:"72h"`
	LockTTL        time.Duration `yaml:"lock_ttl" env-default:"10s"`
	LockWait       time.Duration `yaml:"lock_wait" env-default:"5s"`
}

// RabbitMQ настройки шины уведомлений. Пустой URL отключает публикацию.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Mail настройки отправки писем.
type Mail struct {
	MailDriver           string `yaml:"driver" env:"MAIL_DRIVER" env-default:"log"`
	SMTPHost             string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort             string `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser             string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass             string `yaml:"smtp_pass" env:"SMTP_PASS"`
	PostmarkServerToken  string `yaml:"postmark_server_token" env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `yaml:"postmark_account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `yaml:"sender_email" env:"MAIL_SENDER" env-default:"no-reply@mealplan.local"`
	SupportEmail         string `yaml:"support_email" env:"MAIL_SUPPORT" env-default:"support@mealplan.local"`
}

// Scheduler настройки фонового перевода просроченных подписок.
type Scheduler struct {
	GracePeriod   time.Duration `yaml:"grace_period" env-default:"72h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1h"`
}

// Plan тарифный план, доступный для оформления.
type Plan struct {
	Code     string `yaml:"code" json:"code"`
	Name     string `yaml:"name" json:"name"`
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
	Interval string `yaml:"interval" json:"interval"`
}

// Load читает конфиг из файла и окружения и проверяет обязательные поля.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.GatewaySecretKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг по CONFIG_PATH и завершает процесс при ошибке.
func MustLoad() *Config {
	// .env необязателен
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt access and refresh secrets are required"))
	} else if c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("jwt access and refresh secrets must differ"))
	}
	switch c.Driver {
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongo_uri is required for mongo driver"))
		}
	case DriverPostgres:
		if c.StorageConnectionString == "" {
			errs = append(errs, errors.New("storage.storage_connection_string is required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Driver))
	}
	switch c.MailDriver {
	case MailDriverSMTP, MailDriverPostmark, MailDriverLog:
	default:
		errs = append(errs, fmt.Errorf("unknown mail driver %q", c.MailDriver))
	}
	return errors.Join(errs...)
}

// FindPlan ищет тарифный план по коду.
func (c *Config) FindPlan(code string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Code == code {
			return p, true
		}
	}
	return Plan{}, false
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Storage: %s\n"+
			"Redis: %s (db %d)\n"+
			"HTTP: %s\n"+
			"JWT: access %s, refresh %s, rotation disabled %t\n"+
			"Gateway: %s (timeout %s)\n"+
			"Mail: %s\n"+
			"Plans: %d\n",
		c.Env,
		c.Driver,
		c.AddressRedis, c.RedisDB,
		c.AddressHTTP,
		c.AccessTTL, c.RefreshTTL, c.DisableRefreshRotation,
		c.GatewayURL, c.GatewayTimeout,
		c.MailDriver,
		len(c.Plans),
	)
}
