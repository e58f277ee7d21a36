package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SeatWatch SeatWatchConfig `yaml:"seatwatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	ClassCheckedTopicName string `yaml:"class_checked_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SMTPConfig may be left empty: the worker then skips sending email entirely
// while still recording status transitions.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SeatWatchConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	BatchDelaySeconds   int `yaml:"batch_delay_seconds"`

	// Launch queue settings. Max concurrency is fixed at 1: the browser
	// automation underneath the scraper does not survive concurrent use.
	MinLaunchIntervalSeconds int `yaml:"min_launch_interval_seconds"`
	MaxLookupRetries         int `yaml:"max_lookup_retries"`
	LaunchRateLimitPerMinute int `yaml:"launch_rate_limit_per_minute"`

	LookupTimeoutSeconds int    `yaml:"lookup_timeout_seconds"`
	ScraperPython        string `yaml:"scraper_python"`
	ScraperScript        string `yaml:"scraper_script"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
