package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// GatewayConfig selects the APNs environment and the client identity.
// Either CertFile and KeyFile, or P12File, must be set.
type GatewayConfig struct {
	Sandbox     bool
	CertFile    string
	KeyFile     string
	CAFile      string
	P12File     string
	P12Password string

	DialTimeout        time.Duration
	WriteTimeout       time.Duration
	ProbeWindow        time.Duration
	MaxConcurrentSends int
	Expiry             time.Duration

	// Overrides for the environment's default endpoints.
	GatewayAddr  string
	FeedbackAddr string
}

// FeedbackConfig drives the feedback sweeper. A zero Interval disables it.
type FeedbackConfig struct {
	Interval    time.Duration
	ReadTimeout time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Gateway    GatewayConfig
	Feedback   FeedbackConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// Environment maps the sandbox flag onto the endpoint pair.
func (g GatewayConfig) Environment() apns.Environment {
	if g.Sandbox {
		return apns.Sandbox
	}
	return apns.Production
}

// LoadCredentials reads whichever credential form is configured, preferring
// the PEM pair.
func (g GatewayConfig) LoadCredentials() (*apns.Credentials, error) {
	if g.CertFile != "" {
		return apns.LoadCredentials(g.CertFile, g.KeyFile, g.CAFile)
	}
	return apns.LoadP12Credentials(g.P12File, g.P12Password, g.CAFile)
}

// SessionOptions returns the per-connection timeouts.
func (g GatewayConfig) SessionOptions(logger *slog.Logger) apns.SessionOptions {
	return apns.SessionOptions{
		DialTimeout:  g.DialTimeout,
		WriteTimeout: g.WriteTimeout,
		ProbeWindow:  g.ProbeWindow,
		Logger:       logger,
	}
}

// ClientOptions returns the apns.Client options implied by the config.
func (g GatewayConfig) ClientOptions(logger *slog.Logger) []apns.ClientOption {
	opts := []apns.ClientOption{
		apns.WithSessionOptions(g.SessionOptions(logger)),
		apns.WithLogger(logger),
	}
	if g.GatewayAddr != "" {
		opts = append(opts, apns.WithGatewayAddr(g.GatewayAddr))
	}
	if g.FeedbackAddr != "" {
		opts = append(opts, apns.WithFeedbackAddr(g.FeedbackAddr))
	}
	return opts
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs Overrides
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid APNS_SANDBOX %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "APNS_SANDBOX", "source", "env")
		cfg.Gateway.Sandbox = sandbox
	}
	stringOverrides := []struct {
		key    string
		target *string
	}{
		{"APNS_CERT_FILE", &cfg.Gateway.CertFile},
		{"APNS_PRIVATE_KEY_FILE", &cfg.Gateway.KeyFile},
		{"APNS_CA_FILE", &cfg.Gateway.CAFile},
		{"APNS_P12_FILE", &cfg.Gateway.P12File},
		{"APNS_P12_PASSWORD", &cfg.Gateway.P12Password},
		{"APNS_GATEWAY_ADDR", &cfg.Gateway.GatewayAddr},
		{"APNS_FEEDBACK_ADDR", &cfg.Gateway.FeedbackAddr},
	}
	for _, o := range stringOverrides {
		if val := os.Getenv(o.key); val != "" {
			logger.Debug("Overriding config value", "key", o.key, "source", "env")
			*o.target = val
		}
	}
	durationOverrides := []struct {
		key    string
		target *time.Duration
	}{
		{"APNS_PROBE_WINDOW", &cfg.Gateway.ProbeWindow},
		{"APNS_DIAL_TIMEOUT", &cfg.Gateway.DialTimeout},
		{"FEEDBACK_INTERVAL", &cfg.Feedback.Interval},
	}
	for _, o := range durationOverrides {
		if val := os.Getenv(o.key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", o.key, val, err)
			}
			logger.Debug("Overriding config value", "key", o.key, "source", "env")
			*o.target = d
		}
	}
	if val := os.Getenv("APNS_MAX_CONCURRENT_SENDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "APNS_MAX_CONCURRENT_SENDS", "source", "env")
			cfg.Gateway.MaxConcurrentSends = n
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if err := validateGateway(&cfg.Gateway); err != nil {
		return nil, err
	}
	if cfg.Feedback.Interval < 0 {
		return nil, fmt.Errorf("feedback interval must not be negative, got %s", cfg.Feedback.Interval)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully",
		"sandbox", cfg.Gateway.Sandbox,
		"probe_window", cfg.Gateway.ProbeWindow,
		"feedback_interval", cfg.Feedback.Interval,
	)
	return cfg, nil
}

func validateGateway(g *GatewayConfig) error {
	hasPEM := g.CertFile != "" || g.KeyFile != ""
	switch {
	case hasPEM && (g.CertFile == "" || g.KeyFile == ""):
		return errors.New("apns cert_file and key_file must be set together (APNS_CERT_FILE, APNS_PRIVATE_KEY_FILE)")
	case !hasPEM && g.P12File == "":
		return errors.New("apns credentials are required: set cert_file and key_file, or p12_file")
	}
	if g.ProbeWindow == 0 {
		g.ProbeWindow = apns.DefaultProbeWindow
	}
	if g.ProbeWindow < 0 {
		return fmt.Errorf("apns probe window must be positive, got %s", g.ProbeWindow)
	}
	if g.DialTimeout < 0 || g.WriteTimeout < 0 || g.Expiry < 0 {
		return errors.New("apns timeouts must not be negative")
	}
	return nil
}
