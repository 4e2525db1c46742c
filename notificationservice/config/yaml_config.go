package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

// YamlGatewayConfig holds durations as Go duration strings, e.g. "150ms".
type YamlGatewayConfig struct {
	Sandbox            bool   `yaml:"sandbox"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	P12File            string `yaml:"p12_file"`
	P12Password        string `yaml:"p12_password"`
	DialTimeout        string `yaml:"dial_timeout"`
	WriteTimeout       string `yaml:"write_timeout"`
	ProbeWindow        string `yaml:"probe_window"`
	MaxConcurrentSends int    `yaml:"max_concurrent_sends"`
	Expiry             string `yaml:"expiry"`
	GatewayAddr        string `yaml:"gateway_addr"`
	FeedbackAddr       string `yaml:"feedback_addr"`
}

type YamlFeedbackConfig struct {
	Interval    string `yaml:"interval"`
	ReadTimeout string `yaml:"read_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	GatewayConfig          YamlGatewayConfig  `yaml:"apns"`
	FeedbackConfig         YamlFeedbackConfig `yaml:"feedback"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var durations durationParser
	gw := baseCfg.GatewayConfig

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      durations.parse("redis.ttl", baseCfg.RedisConfig.TTL),
		},
		Gateway: GatewayConfig{
			Sandbox:            gw.Sandbox,
			CertFile:           gw.CertFile,
			KeyFile:            gw.KeyFile,
			CAFile:             gw.CAFile,
			P12File:            gw.P12File,
			P12Password:        gw.P12Password,
			DialTimeout:        durations.parse("apns.dial_timeout", gw.DialTimeout),
			WriteTimeout:       durations.parse("apns.write_timeout", gw.WriteTimeout),
			ProbeWindow:        durations.parse("apns.probe_window", gw.ProbeWindow),
			MaxConcurrentSends: gw.MaxConcurrentSends,
			Expiry:             durations.parse("apns.expiry", gw.Expiry),
			GatewayAddr:        gw.GatewayAddr,
			FeedbackAddr:       gw.FeedbackAddr,
		},
		Feedback: FeedbackConfig{
			Interval:    durations.parse("feedback.interval", baseCfg.FeedbackConfig.Interval),
			ReadTimeout: durations.parse("feedback.read_timeout", baseCfg.FeedbackConfig.ReadTimeout),
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}
	if durations.err != nil {
		return nil, durations.err
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"sandbox", cfg.Gateway.Sandbox,
	)

	return cfg, nil
}

// durationParser keeps the first error so a config mapping can parse many
// fields and check once.
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, value string) time.Duration {
	if value == "" || p.err != nil {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("invalid duration for %s: %w", field, err)
		return 0
	}
	return d
}
