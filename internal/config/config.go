// Package config loads and validates the YAML configuration shared by
// the api and worker binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Email    EmailConfig    `yaml:"email"`
	Platform PlatformConfig `yaml:"platform"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the engagement-events exchange configuration
type RabbitMQConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	Exchange          string        `yaml:"exchange"`
	Queue             string        `yaml:"queue"`
	RoutingKey        string        `yaml:"routing_key"`
	PrefetchCount     int           `yaml:"prefetch_count"`
	DialAttempts      int           `yaml:"dial_attempts"`
	DialRetryInterval time.Duration `yaml:"dial_retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds the tick loop configuration
type WorkerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	JobBatchSize      int           `yaml:"job_batch_size"`
	SequenceBatchSize int           `yaml:"sequence_batch_size"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	StaleJobCutoff    time.Duration `yaml:"stale_job_cutoff"`
	ReaperSchedule    string        `yaml:"reaper_schedule"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
}

// PlatformConfig holds the pipeline service client settings
type PlatformConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScheduleConfig holds the business-hours send window
type ScheduleConfig struct {
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
	Timezone  string `yaml:"timezone"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the api binary depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker binary depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.TickInterval <= 0 {
		return fmt.Errorf("worker tick_interval must be greater than 0")
	}

	if c.Worker.JobBatchSize <= 0 {
		return fmt.Errorf("worker job_batch_size must be greater than 0")
	}

	if c.Worker.SequenceBatchSize <= 0 {
		return fmt.Errorf("worker sequence_batch_size must be greater than 0")
	}

	if c.Worker.StaleJobCutoff <= 0 {
		return fmt.Errorf("worker stale_job_cutoff must be greater than 0")
	}

	if c.Email.Host == "" || c.Email.FromAddress == "" {
		return fmt.Errorf("email host and from_address are required")
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}

	if c.RabbitMQ.Queue == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}

	if c.Schedule.StartHour != 0 || c.Schedule.EndHour != 0 {
		if c.Schedule.StartHour < 0 || c.Schedule.EndHour > 24 || c.Schedule.StartHour >= c.Schedule.EndHour {
			return fmt.Errorf("invalid schedule window: start_hour=%d end_hour=%d", c.Schedule.StartHour, c.Schedule.EndHour)
		}
	}

	return nil
}
