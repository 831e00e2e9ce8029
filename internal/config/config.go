package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Log   LogConfig
	Store StoreConfig
	Redis RedisConfig
	Mongo MongoConfig

	Lookup    LookupConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig

	Cart       CartConfig
	Pricing    PricingConfig
	Expiration ExpirationConfig
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

type StoreConfig struct {
	Backend string // redis or mongo
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI      string
	Database string
}

type LookupConfig struct {
	ProductServiceURL   string
	InventoryServiceURL string
	ConsulAddr          string
	Timeout             time.Duration
	Retries             uint64
	RetryDelay          time.Duration
}

type KafkaConfig struct {
	Brokers         []string
	CheckoutTopic   string
	ExpirationTopic string
	ConsumerGroup   string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
	Audience  string
}

// RateLimitConfig is a fixed window per user; zero Requests disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type CartConfig struct {
	MaxItems           int
	MaxQuantityPerItem int
	ExpirationDays     int
	MinOrderAmount     decimal.Decimal
}

// Lifetime is how long a newly created cart lives.
func (c CartConfig) Lifetime() time.Duration {
	return time.Duration(c.ExpirationDays) * 24 * time.Hour
}

type PricingConfig struct {
	Currency                string
	DecimalPlaces           int32
	TaxRate                 decimal.Decimal
	ShippingCost            decimal.Decimal
	FreeShippingThreshold   decimal.Decimal
	BulkDiscountMinQuantity int
	BulkDiscountRate        decimal.Decimal
}

type ExpirationConfig struct {
	Enabled       bool
	WarningDays   int
	CheckInterval time.Duration
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var errs []error
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8002"),
		GRPCPort:        getEnv("GRPC_PORT", "50055"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend: getEnv("CART_STORE", "redis"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0, &errs),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB_NAME", "cartdb"),
		},
		Lookup: LookupConfig{
			ProductServiceURL:   getEnv("PRODUCT_SERVICE_URL", "http://localhost:50053"),
			InventoryServiceURL: getEnv("INVENTORY_SERVICE_URL", "http://localhost:50054"),
			ConsulAddr:          getEnv("CONSUL_ADDR", ""),
			Timeout:             getEnvDuration("LOOKUP_TIMEOUT", 3*time.Second, &errs),
			Retries:             uint64(getEnvInt("LOOKUP_RETRIES", 2, &errs)),
			RetryDelay:          getEnvDuration("LOOKUP_RETRY_DELAY", 200*time.Millisecond, &errs),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			CheckoutTopic:   getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
			ExpirationTopic: getEnv("EXPIRATION_TOPIC", "cart.expiration.reminder"),
			ConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "cart-service-consumer"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Issuer:    getEnv("JWT_ISSUER", "ecommerce-api"),
			Audience:  getEnv("JWT_AUDIENCE", "ecommerce-clients"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30, &errs),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute, &errs),
		},
		Cart: CartConfig{
			MaxItems:           getEnvInt("MAX_CART_ITEMS", 100, &errs),
			MaxQuantityPerItem: getEnvInt("MAX_QUANTITY_PER_ITEM", 10, &errs),
			ExpirationDays:     getEnvInt("CART_EXPIRATION_DAYS", 30, &errs),
			MinOrderAmount:     getEnvDecimal("MIN_ORDER_AMOUNT", "10", &errs),
		},
		Pricing: PricingConfig{
			Currency:                getEnv("CURRENCY", "VND"),
			DecimalPlaces:           int32(getEnvInt("DECIMAL_PLACES", 2, &errs)),
			TaxRate:                 getEnvDecimal("TAX_RATE", "0.1", &errs),
			ShippingCost:            getEnvDecimal("SHIPPING_COST", "10", &errs),
			FreeShippingThreshold:   getEnvDecimal("FREE_SHIPPING_THRESHOLD", "100", &errs),
			BulkDiscountMinQuantity: getEnvInt("BULK_DISCOUNT_MIN_QUANTITY", 0, &errs),
			BulkDiscountRate:        getEnvDecimal("BULK_DISCOUNT_RATE", "0.05", &errs),
		},
		Expiration: ExpirationConfig{
			Enabled:       getEnvBool("CART_EXPIRATION_SCHEDULER_ENABLED", true),
			WarningDays:   getEnvInt("CART_EXPIRATION_WARNING_DAYS", 7, &errs),
			CheckInterval: getEnvDuration("CART_EXPIRATION_CHECK_INTERVAL", 24*time.Hour, &errs),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and ports.
func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]string{"HTTP_PORT": c.HTTPPort, "GRPC_PORT": c.GRPCPort} {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %q", name, port))
		}
	}
	if c.Cart.MaxItems <= 0 {
		errs = append(errs, errors.New("MAX_CART_ITEMS must be greater than 0"))
	}
	if c.Cart.MaxQuantityPerItem <= 0 {
		errs = append(errs, errors.New("MAX_QUANTITY_PER_ITEM must be greater than 0"))
	}
	if c.Cart.ExpirationDays <= 0 {
		errs = append(errs, errors.New("CART_EXPIRATION_DAYS must be greater than 0"))
	}
	if c.Pricing.DecimalPlaces < 0 {
		errs = append(errs, errors.New("DECIMAL_PLACES cannot be negative"))
	}
	if c.Pricing.TaxRate.IsNegative() || c.Pricing.ShippingCost.IsNegative() {
		errs = append(errs, errors.New("TAX_RATE and SHIPPING_COST cannot be negative"))
	}
	if c.Store.Backend != "redis" && c.Store.Backend != "mongo" {
		errs = append(errs, fmt.Errorf("CART_STORE must be redis or mongo, got %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid number: %w", key, err))
		return defaultValue
	}
	return parsed
}

func getEnvDecimal(key, defaultValue string, errs *[]error) decimal.Decimal {
	parsed, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid number: %w", key, err))
		return decimal.Zero
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a valid duration: %w", key, err))
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true")
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
