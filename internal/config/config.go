package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type App struct {
	Env           string `yaml:"env"`
	CurrentUserID string `yaml:"current_user_id"`
}

type API struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryMaxSecs   int    `yaml:"retry_max_seconds"`
	PageSize       int    `yaml:"page_size"`
}

type Gateway struct {
	// Kind selects the transport: ws, redis or nats.
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Media struct {
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	PublicRead bool   `yaml:"public_read"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type JWT struct {
	// HSSecret lets gatewayd validate HS256 tokens locally. The SDK itself
	// only inspects claims, it never verifies.
	HSSecret string `yaml:"hs_secret"`
}

type Config struct {
	App     App     `yaml:"app"`
	API     API     `yaml:"api"`
	Gateway Gateway `yaml:"gateway"`
	Redis   Redis   `yaml:"redis"`
	Media   Media   `yaml:"media"`
	Kafka   Kafka   `yaml:"kafka"`
	JWT     JWT     `yaml:"jwt"`
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.API.RetryMaxSecs) * time.Second
}

func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		b, _ := os.ReadFile(path)
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	overrideFromEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_KIND"); v != "" {
		cfg.Gateway.Kind = v
	}
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MEDIA_BUCKET"); v != "" {
		cfg.Media.Bucket = v
	}
	if v := os.Getenv("MEDIA_REGION"); v != "" {
		cfg.Media.Region = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.HSSecret = v
	}
	if v := os.Getenv("API_PAGE_SIZE"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.API.PageSize = n
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 15
	}
	if cfg.API.RetryMaxSecs == 0 {
		cfg.API.RetryMaxSecs = 30
	}
	if cfg.API.PageSize == 0 {
		cfg.API.PageSize = 50
	}
	if cfg.Gateway.Kind == "" {
		cfg.Gateway.Kind = "ws"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "chatsync"
	}
}

func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url missing")
	}
	switch cfg.Gateway.Kind {
	case "ws", "nats":
		if cfg.Gateway.URL == "" {
			return errors.New("gateway.url missing")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr missing")
		}
	default:
		return errors.New("invalid gateway.kind (use ws, redis or nats)")
	}
	return nil
}
