package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "leadflow_db", cfg.Database.Database)
			assert.Equal(t, "engagement_events", cfg.RabbitMQ.Exchange)
			assert.Equal(t, "lead.engagement", cfg.RabbitMQ.RoutingKey)
			assert.Equal(t, time.Minute, cfg.Worker.TickInterval)
			assert.Equal(t, 20, cfg.Worker.JobBatchSize)
			assert.Equal(t, 50, cfg.Worker.SequenceBatchSize)
			assert.Equal(t, 15*time.Minute, cfg.Worker.StaleJobCutoff)
			assert.Equal(t, "@every 5m", cfg.Worker.ReaperSchedule)
			assert.Equal(t, "sales@leadflow.test", cfg.Email.FromAddress)
			assert.Equal(t, "http://localhost:9090", cfg.Platform.BaseURL)
			assert.Equal(t, 9, cfg.Schedule.StartHour)
			assert.Equal(t, 17, cfg.Schedule.EndHour)
			assert.Equal(t, "leadflow-api", cfg.App.Name)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "leadflow_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: "engagement_events",
			Queue:    "engagement_events_queue",
		},
		Worker: WorkerConfig{
			TickInterval:      time.Minute,
			JobBatchSize:      20,
			SequenceBatchSize: 50,
			JobTimeout:        2 * time.Minute,
			StaleJobCutoff:    15 * time.Minute,
		},
		Email: EmailConfig{
			Host:        "smtp.mailtrap.io",
			FromAddress: "sales@leadflow.test",
		},
		Schedule: ScheduleConfig{StartHour: 9, EndHour: 17},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 70000 },
			errString: "invalid database port",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "missing rabbitmq exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange = "" },
			errString: "rabbitmq exchange is required",
		},
		{
			name:      "inverted schedule window",
			mutate:    func(c *Config) { c.Schedule.StartHour, c.Schedule.EndHour = 17, 9 },
			errString: "invalid schedule window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero tick interval",
			mutate:    func(c *Config) { c.Worker.TickInterval = 0 },
			errString: "tick_interval",
		},
		{
			name:      "zero job batch size",
			mutate:    func(c *Config) { c.Worker.JobBatchSize = 0 },
			errString: "job_batch_size",
		},
		{
			name:      "zero sequence batch size",
			mutate:    func(c *Config) { c.Worker.SequenceBatchSize = 0 },
			errString: "sequence_batch_size",
		},
		{
			name:      "zero stale cutoff",
			mutate:    func(c *Config) { c.Worker.StaleJobCutoff = 0 },
			errString: "stale_job_cutoff",
		},
		{
			name:      "missing smtp host",
			mutate:    func(c *Config) { c.Email.Host = "" },
			errString: "email host and from_address are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}
