package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"ENV"`
	BodyLimit  string `mapstructure:"BODY_LIMIT"`
	TimeoutSec int    `mapstructure:"REQUEST_TIMEOUT_SEC"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTransactionalID string   `mapstructure:"KAFKA_TRANSACTIONAL_ID"`
	KafkaMaxRequestSize  int      `mapstructure:"KAFKA_MAX_REQUEST_SIZE"`

	TopicStatus        string `mapstructure:"TOPIC_STATUS"`
	TopicIndexerLow    string `mapstructure:"TOPIC_INDEXER_LOW"`
	TopicIndexerMedium string `mapstructure:"TOPIC_INDEXER_MEDIUM"`
	TopicIndexerHigh   string `mapstructure:"TOPIC_INDEXER_HIGH"`
	TopicRetryUpdate   string `mapstructure:"TOPIC_RETRY_UPDATE"`
	TopicRetryDelete   string `mapstructure:"TOPIC_RETRY_DELETE"`

	ValidatorURL string `mapstructure:"VALIDATOR_URL"`
	RegistryURL  string `mapstructure:"REGISTRY_URL"`
	DocStoreURL  string `mapstructure:"DOCSTORE_URL"`
	MapperURL    string `mapstructure:"MAPPER_URL"`

	DocStoreEnabled bool   `mapstructure:"DOCSTORE_ENABLED"`
	AttachmentName  string `mapstructure:"CDA_ATTACHMENT_NAME"`
	RetentionDays   int    `mapstructure:"VALIDATION_RETENTION_DAYS"`
	Benchmark       bool   `mapstructure:"BENCHMARK_ENABLED"`
	TSIssuer        string `mapstructure:"TS_ISSUER"`
	ServiceName     string `mapstructure:"SERVICE_NAME"`
	TokenHeader     string `mapstructure:"TOKEN_HEADER"`
	ForwardedToken  bool   `mapstructure:"TOKEN_FORWARDED"`
}

var boundKeys = []string{
	"PORT", "ENV", "BODY_LIMIT", "REQUEST_TIMEOUT_SEC",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "KAFKA_TRANSACTIONAL_ID", "KAFKA_MAX_REQUEST_SIZE",
	"TOPIC_STATUS", "TOPIC_INDEXER_LOW", "TOPIC_INDEXER_MEDIUM",
	"TOPIC_INDEXER_HIGH", "TOPIC_RETRY_UPDATE", "TOPIC_RETRY_DELETE",
	"VALIDATOR_URL", "REGISTRY_URL", "DOCSTORE_URL", "MAPPER_URL",
	"DOCSTORE_ENABLED", "CDA_ATTACHMENT_NAME", "VALIDATION_RETENTION_DAYS",
	"BENCHMARK_ENABLED", "TS_ISSUER", "SERVICE_NAME", "TOKEN_HEADER",
	"TOKEN_FORWARDED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BODY_LIMIT", "250M")
	v.SetDefault("REQUEST_TIMEOUT_SEC", 60)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("KAFKA_TRANSACTIONAL_ID", "dispatcher-indexer-tx")
	v.SetDefault("KAFKA_MAX_REQUEST_SIZE", 1048576)
	v.SetDefault("TOPIC_STATUS", "dispatcher.status")
	v.SetDefault("TOPIC_INDEXER_LOW", "dispatcher.indexer.low")
	v.SetDefault("TOPIC_INDEXER_MEDIUM", "dispatcher.indexer.medium")
	v.SetDefault("TOPIC_INDEXER_HIGH", "dispatcher.indexer.high")
	v.SetDefault("TOPIC_RETRY_UPDATE", "dispatcher.retry.update")
	v.SetDefault("TOPIC_RETRY_DELETE", "dispatcher.retry.delete")
	v.SetDefault("DOCSTORE_ENABLED", true)
	v.SetDefault("CDA_ATTACHMENT_NAME", "cda.xml")
	v.SetDefault("VALIDATION_RETENTION_DAYS", 5)
	v.SetDefault("BENCHMARK_ENABLED", false)
	v.SetDefault("SERVICE_NAME", "dispatcher")
	v.SetDefault("TOKEN_HEADER", "Authorization")
	v.SetDefault("TOKEN_FORWARDED", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range boundKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.KafkaBrokers == nil {
		brokers := v.GetString("KAFKA_BROKERS")
		if brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequestTimeout returns the per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run. Broker and
// downstream endpoints must be present: the gateway cannot degrade to a
// broker-less mode because every terminal state is announced on the status
// topic.
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.KafkaTransactionalID == "" {
		return fmt.Errorf("KAFKA_TRANSACTIONAL_ID is required")
	}
	if c.KafkaMaxRequestSize <= 0 {
		return fmt.Errorf("KAFKA_MAX_REQUEST_SIZE must be positive, got %d", c.KafkaMaxRequestSize)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("VALIDATION_RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	if c.ValidatorURL == "" {
		return fmt.Errorf("VALIDATOR_URL is required")
	}
	if c.RegistryURL == "" {
		return fmt.Errorf("REGISTRY_URL is required")
	}
	if c.MapperURL == "" {
		return fmt.Errorf("MAPPER_URL is required")
	}
	if c.DocStoreEnabled && c.DocStoreURL == "" {
		return fmt.Errorf("DOCSTORE_URL is required when DOCSTORE_ENABLED is true")
	}
	for _, topic := range []struct {
		key  string
		name string
	}{
		{"TOPIC_STATUS", c.TopicStatus},
		{"TOPIC_INDEXER_LOW", c.TopicIndexerLow},
		{"TOPIC_INDEXER_MEDIUM", c.TopicIndexerMedium},
		{"TOPIC_INDEXER_HIGH", c.TopicIndexerHigh},
		{"TOPIC_RETRY_UPDATE", c.TopicRetryUpdate},
		{"TOPIC_RETRY_DELETE", c.TopicRetryDelete},
	} {
		if topic.name == "" {
			return fmt.Errorf("%s is required", topic.key)
		}
	}
	return nil
}
