package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/podushkina/taskenvelope/internal/envelope"
)

type Config struct {
	ServerPort  string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	WorkerCount int
	QueueName   string

	// ContentType and ContentEncoding choose the body serializer for
	// envelopes the service encodes. An empty encoding follows the
	// serializer.
	ContentType     string
	ContentEncoding string

	Log LogConfig
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: console or json
	Format string
	// File, when set, receives a rotated copy of the log.
	File        string
	Development bool
}

// Load reads settings from the environment and, when CONFIG_FILE names
// one, from a config file. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("server_port", "8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("worker_count", 3)
	v.SetDefault("queue_name", "celery")
	v.SetDefault("content_type", "application/json")
	v.SetDefault("content_encoding", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", "")
	v.SetDefault("log_development", false)
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	return &Config{
		ServerPort:      v.GetString("server_port"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPass:       v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		WorkerCount:     v.GetInt("worker_count"),
		QueueName:       v.GetString("queue_name"),
		ContentType:     v.GetString("content_type"),
		ContentEncoding: v.GetString("content_encoding"),
		Log: LogConfig{
			Level:       v.GetString("log_level"),
			Format:      v.GetString("log_format"),
			File:        v.GetString("log_file"),
			Development: v.GetBool("log_development"),
		},
	}, nil
}

// EnvelopeOptions returns the codec options for envelopes the service encodes.
func (c *Config) EnvelopeOptions() envelope.Options {
	opts := envelope.DefaultOptions()
	opts.ContentType = c.ContentType
	opts.ContentEncoding = c.ContentEncoding
	return opts
}
