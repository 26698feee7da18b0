package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/order-backend/pkg/utils"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP     `yaml:"http"`
	Realtime Realtime `yaml:"realtime"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	JWT      JWT      `yaml:"jwt"`
	Orders   Orders   `yaml:"orders"`
	Events   Events   `yaml:"events"`
}

type HTTP struct {
	Port        string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	MetricsPort string        `yaml:"metrics_port" env:"METRICS_PORT" env-default:":9091"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
}

type Realtime struct {
	Port           string        `yaml:"port" env:"REALTIME_PORT" env-default:":3001"`
	RateLimitCalls int           `yaml:"rate_limit_calls" env:"REALTIME_RATE_LIMIT_CALLS" env-default:"5"`
	RateLimitWin   time.Duration `yaml:"rate_limit_window" env:"REALTIME_RATE_LIMIT_WINDOW" env-default:"3s"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Redis struct {
	// Addr empty disables the owner-lookup cache.
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	StatusTopic string   `yaml:"status_topic" env:"KAFKA_STATUS_TOPIC" env-default:"order.status.changed"`
	GroupID     string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"order-backend-realtime"`
}

type JWT struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"15m"`
}

type Orders struct {
	LockTimeout time.Duration `yaml:"lock_timeout" env:"ORDER_LOCK_TIMEOUT" env-default:"5s"`
}

type Events struct {
	Throttle time.Duration `yaml:"throttle" env:"EVENTS_THROTTLE" env-default:"300ms"`
	IdleTTL  time.Duration `yaml:"idle_ttl" env:"EVENTS_IDLE_TTL" env-default:"1m"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
