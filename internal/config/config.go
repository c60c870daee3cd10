package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Propagation PropagationConfig `json:"propagation"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration. Driver selects the
// backing store: "postgres" for production, "memory" for development and
// tests.
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// MarketplaceConfig holds the trading policy knobs.
type MarketplaceConfig struct {
	// BidPriceCeiling caps bid prices in rupees per quintal; bids above it
	// are clamped, not rejected.
	BidPriceCeiling int64 `json:"bid_price_ceiling"`
	// LockWaitTimeout bounds how long a settlement waits for a contended
	// aggregate before failing with a timeout.
	LockWaitTimeout time.Duration `json:"lock_wait_timeout"`
	// MirrorWarmSchedule is the cron expression for probing the primary
	// store while degraded.
	MirrorWarmSchedule string  `json:"mirror_warm_schedule"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`
}

// PropagationConfig selects the external change-event transport.
// Transport is one of "websocket", "sns", "kafka", or "none".
type PropagationConfig struct {
	Transport        string   `json:"transport"`
	SubscriberBuffer int      `json:"subscriber_buffer"`
	SNSTopicARN      string   `json:"sns_topic_arn"`
	AWSRegion        string   `json:"aws_region"`
	AWSAccessKey     string   `json:"aws_access_key"`
	AWSSecretKey     string   `json:"aws_secret_key"`
	KafkaBrokers     []string `json:"kafka_brokers"`
	KafkaTopic       string   `json:"kafka_topic"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "agrimandi_marketplace",
			SSLMode: "disable",
		},
		Marketplace: MarketplaceConfig{
			BidPriceCeiling:    25000,
			LockWaitTimeout:    5 * time.Second,
			MirrorWarmSchedule: "@every 30s",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Propagation: PropagationConfig{
			Transport:        "websocket",
			SubscriberBuffer: 256,
			KafkaTopic:       "marketplace-changes",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if ceiling := os.Getenv("BID_PRICE_CEILING"); ceiling != "" {
		if v, err := strconv.ParseInt(ceiling, 10, 64); err == nil {
			config.Marketplace.BidPriceCeiling = v
		}
	}
	if transport := os.Getenv("PROPAGATION_TRANSPORT"); transport != "" {
		config.Propagation.Transport = transport
	}
	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		config.Propagation.SNSTopicARN = arn
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Propagation.AWSRegion = region
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		config.Propagation.AWSAccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		config.Propagation.AWSSecretKey = secret
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Propagation.KafkaBrokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		config.Propagation.KafkaTopic = topic
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// GetDatabaseDSN returns the gorm postgres connection string
func (c *DatabaseConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
