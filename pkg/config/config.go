// Package config loads environment configuration for the server and
// worker binaries. Components never read the environment themselves;
// they receive concrete values or instances at construction.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	APIAddr string `env:"API_ADDR" envDefault:":8081"`
	APIKey  string `env:"API_KEY"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// PostgresDSN is optional: when empty both binaries fall back to the
	// in-memory stores, which is how the test and demo environments run.
	PostgresDSN string `env:"POSTGRES_DSN"`

	AnalysisBaseURL string `env:"ANALYSIS_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnalysisAPIKey  string `env:"ANALYSIS_API_KEY"`
	AnalysisModel   string `env:"ANALYSIS_MODEL" envDefault:"gpt-4o-mini"`

	// SignatureProvider selects the e-signature backend: "hosted" for the
	// external service, "selfhosted" for the built-in fallback.
	SignatureProvider string `env:"SIGNATURE_PROVIDER" envDefault:"selfhosted"`
	SignatureBaseURL  string `env:"SIGNATURE_BASE_URL"`
	SignatureAPIKey   string `env:"SIGNATURE_API_KEY"`

	AlertWebhookURL string `env:"ALERT_WEBHOOK_URL"`

	RiskAlertThreshold int           `env:"RISK_ALERT_THRESHOLD" envDefault:"7"`
	StageTimeout       time.Duration `env:"STAGE_TIMEOUT" envDefault:"60s"`
}

// Load parses the environment into a Config. Validation of required
// values is left to the callers that actually need them (the worker can
// run without a signature API key, the server cannot initiate hosted
// signatures without one).
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
