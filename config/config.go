package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Deferred Deferred
	Redis    Redis
}

// Deferred holds the tunables of the deferred-request engine.
type Deferred struct {
	DefaultTimeoutSeconds int    `env:"DEFERRED_DEFAULT_TIMEOUT_SECONDS" envDefault:"300"`
	DefaultResultTTL      int    `env:"DEFERRED_DEFAULT_RESULT_TTL_SECONDS" envDefault:"3600"`
	DefaultPriority       string `env:"DEFERRED_DEFAULT_PRIORITY" envDefault:"default"`
	MaxAttempts           int    `env:"DEFERRED_MAX_ATTEMPTS" envDefault:"3"`
	CleanupRetentionDays  int    `env:"DEFERRED_CLEANUP_RETENTION_DAYS" envDefault:"7"`
	RuleRefreshSeconds    int    `env:"DEFERRED_RULE_REFRESH_SECONDS" envDefault:"30"`
	// Headers persisted with a deferred request. Anything not listed here
	// (notably Authorization) is dropped before the record hits the store.
	HeaderAllowList []string `env:"DEFERRED_HEADER_ALLOW_LIST" envSeparator:"," envDefault:"accept,content-type,x-organization-id,accept-language"`
}

type Redis struct {
	Addr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB"`
	Group         string `env:"REDIS_GROUP" envDefault:"deferred-workers"`
	HighStream    string `env:"REDIS_STREAM_HIGH" envDefault:"deferred:high"`
	DefaultStream string `env:"REDIS_STREAM_DEFAULT" envDefault:"deferred:default"`
	LowStream     string `env:"REDIS_STREAM_LOW" envDefault:"deferred:low"`
	ScheduledZSet string `env:"REDIS_SCHEDULED_ZSET" envDefault:"deferred:scheduled"`
}

func Load() *Config {
	// .env is optional outside local development.
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config from environment")
	}
	return &c
}

func (d Deferred) DefaultTimeout() time.Duration {
	return time.Duration(d.DefaultTimeoutSeconds) * time.Second
}

func (d Deferred) RuleRefresh() time.Duration {
	return time.Duration(d.RuleRefreshSeconds) * time.Second
}

// HeaderAllowed reports whether the header name survives persistence.
func (d Deferred) HeaderAllowed(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, h := range d.HeaderAllowList {
		if strings.ToLower(strings.TrimSpace(h)) == name {
			return true
		}
	}
	return false
}
