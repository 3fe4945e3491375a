package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`
	DisconnectGrace   time.Duration `env:"DISCONNECT_GRACE" envDefault:"30s"`
	PresenceWindow    time.Duration `env:"PRESENCE_WINDOW" envDefault:"5m"`

	DefaultBoardSize  int `env:"DEFAULT_BOARD_SIZE" envDefault:"8"`
	DefaultMaxPlayers int `env:"DEFAULT_MAX_PLAYERS" envDefault:"4"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
