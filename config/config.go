package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const envPrefix = "CHECKOUT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		Addr            string        `koanf:"addr"`
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	MySQL struct {
		User            string        `koanf:"user"`
		Password        string        `koanf:"password"`
		Host            string        `koanf:"host"`
		Port            string        `koanf:"port"`
		Name            string        `koanf:"name"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string        `koanf:"addr"`
		Password string        `koanf:"password"`
		DB       int           `koanf:"db"`
		LockTTL  time.Duration `koanf:"lock_ttl"`
		DedupTTL time.Duration `koanf:"dedup_ttl"`
	} `koanf:"redis"`

	RabbitMQ struct {
		URL             string `koanf:"url"`
		OrderExchange   string `koanf:"order_exchange"`
		OrderQueue      string `koanf:"order_queue"`
		DeadLetterQueue string `koanf:"dead_letter_queue"`
		MaxPriority     int    `koanf:"max_priority"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers     []string `koanf:"brokers"`
		TopicEvents string   `koanf:"topic_events"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret     string `koanf:"jwt_secret"`
		ServiceAPIKey string `koanf:"service_api_key"`
	} `koanf:"security"`

	Fulfillment GatewayConfig `koanf:"fulfillment"`

	Midtrans struct {
		ServerKey    string        `koanf:"server_key"`
		IsProduction bool          `koanf:"is_production"`
		BaseURL      string        `koanf:"base_url"`
		Timeout      time.Duration `koanf:"timeout"`
	} `koanf:"midtrans"`

	Checkout struct {
		DefaultShippingFee string  `koanf:"default_shipping_fee"`
		Currency           string  `koanf:"currency"`
		Courier            string  `koanf:"courier"`
		DefaultWeightKg    float64 `koanf:"default_weight_kg"`
		AdminEmail         string  `koanf:"admin_email"`
		CallbackBaseURL    string  `koanf:"callback_base_url"`
		ReturnBaseURL      string  `koanf:"return_base_url"`
	} `koanf:"checkout"`

	Outbox struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		MinAge       time.Duration `koanf:"min_age"`
		BatchSize    int           `koanf:"batch_size"`
	} `koanf:"outbox"`
}

// GatewayConfig is the resilience policy and credentials of the fulfillment API.
type GatewayConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRetries       uint64        `koanf:"max_retries"`
	InitialInterval  time.Duration `koanf:"initial_interval"`
	MaxInterval      time.Duration `koanf:"max_interval"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	var c Config
	c.App.Name = "checkout-service"
	c.App.Env = "dev"
	c.App.LogLevel = "info"
	c.App.LogFile = "./logs/app.log"

	c.HTTP.Addr = ":8080"
	c.HTTP.ReadTimeout = 10 * time.Second
	c.HTTP.WriteTimeout = 30 * time.Second
	c.HTTP.ShutdownTimeout = 15 * time.Second

	c.MySQL.User = "root"
	c.MySQL.Host = "localhost"
	c.MySQL.Port = "3306"
	c.MySQL.Name = "ecommerce"
	c.MySQL.MaxOpenConns = 25
	c.MySQL.MaxIdleConns = 10
	c.MySQL.ConnMaxLifetime = 5 * time.Minute
	c.MySQL.Migrate = true

	c.Redis.LockTTL = 30 * time.Second
	c.Redis.DedupTTL = 24 * time.Hour

	c.RabbitMQ.OrderExchange = "orders_exchange"
	c.RabbitMQ.OrderQueue = "orders_queue"
	c.RabbitMQ.DeadLetterQueue = "dead_letter_queue"
	c.RabbitMQ.MaxPriority = 10

	c.Kafka.TopicEvents = "order-events"

	c.Fulfillment.BaseURL = "http://localhost:8081"
	c.Fulfillment.Timeout = 5 * time.Second
	c.Fulfillment.MaxRetries = 3
	c.Fulfillment.InitialInterval = 200 * time.Millisecond
	c.Fulfillment.MaxInterval = 2 * time.Second
	c.Fulfillment.FailureThreshold = 5
	c.Fulfillment.OpenTimeout = 30 * time.Second

	c.Midtrans.Timeout = 10 * time.Second

	c.Checkout.DefaultShippingFee = "15000"
	c.Checkout.Currency = "IDR"
	c.Checkout.Courier = "jne"
	c.Checkout.DefaultWeightKg = 1.0
	c.Checkout.AdminEmail = "admin@example.com"
	c.Checkout.CallbackBaseURL = "http://localhost:8080"
	c.Checkout.ReturnBaseURL = "http://localhost:3000"

	c.Outbox.PollInterval = 10 * time.Second
	c.Outbox.MinAge = 30 * time.Second
	c.Outbox.BatchSize = 50
	return c
}

// Load layers defaults, <dir>/base.yaml, <dir>/<envName>.yaml and CHECKOUT_
// environment variables, in that order. Both files are optional.
// Nested keys use "__", e.g. CHECKOUT_MYSQL__HOST.
func Load(dir, envName string) (Config, error) {
	k := koanf.New(".")

	for _, name := range []string{"base.yaml", envName + ".yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", name, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.loadSecretFiles(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadSecretFiles replaces secrets with the content of files named by
// CHECKOUT_<KEY>_FILE, as mounted by docker/k8s secrets.
func (c *Config) loadSecretFiles() error {
	secrets := map[string]*string{
		"MYSQL__PASSWORD":           &c.MySQL.Password,
		"SECURITY__JWT_SECRET":      &c.Security.JWTSecret,
		"SECURITY__SERVICE_API_KEY": &c.Security.ServiceAPIKey,
		"FULFILLMENT__API_KEY":      &c.Fulfillment.APIKey,
		"MIDTRANS__SERVER_KEY":      &c.Midtrans.ServerKey,
		"REDIS__PASSWORD":           &c.Redis.Password,
	}
	for key, dst := range secrets {
		path := os.Getenv(envPrefix + key + "_FILE")
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read secret %s: %w", key, err)
		}
		*dst = strings.TrimSpace(string(content))
	}
	return nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr required")
	}
	if c.MySQL.Host == "" || c.MySQL.Name == "" {
		return fmt.Errorf("mysql.host and mysql.name required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Security.ServiceAPIKey == "" {
		return fmt.Errorf("security.service_api_key required")
	}
	if c.Fulfillment.BaseURL == "" {
		return fmt.Errorf("fulfillment.base_url required")
	}
	if _, err := decimal.NewFromString(c.Checkout.DefaultShippingFee); err != nil {
		return fmt.Errorf("checkout.default_shipping_fee: %w", err)
	}
	if c.Checkout.Currency == "" {
		return fmt.Errorf("checkout.currency required")
	}
	return nil
}

// DefaultShippingFee is the fee applied whenever a quote is unavailable.
func (c Config) DefaultShippingFee() decimal.Decimal {
	return decimal.RequireFromString(c.Checkout.DefaultShippingFee)
}

// DSN builds the MySQL data source name.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.MySQL.User
	mc.Passwd = c.MySQL.Password
	mc.Net = "tcp"
	mc.Addr = c.MySQL.Host + ":" + c.MySQL.Port
	mc.DBName = c.MySQL.Name
	mc.ParseTime = true
	mc.MultiStatements = true
	return mc.FormatDSN()
}
