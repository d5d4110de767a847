// Package config 配置加载：默认值、可选配置文件、.env 文件、IMPOSTOR_* 环境变量，
// 优先级依次升高
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "IMPOSTOR"

// Config 服务配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// ServerConfig HTTP 监听
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GameConfig 新房间默认值
type GameConfig struct {
	DefaultImpostors     int      `mapstructure:"default_impostors"`
	MaxPlayers           int      `mapstructure:"max_players"`
	Words                []string `mapstructure:"words"`
	Seed                 int64    `mapstructure:"seed"`
	AllowEliminatedGuess bool     `mapstructure:"allow_eliminated_guess"`
}

// WebSocketConfig 连接参数
type WebSocketConfig struct {
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("game.default_impostors", 1)
	v.SetDefault("game.max_players", 12)
	v.SetDefault("game.words", []string{})
	v.SetDefault("game.seed", 0)
	v.SetDefault("game.allow_eliminated_guess", false)

	v.SetDefault("websocket.read_limit", 512*1024)
	v.SetDefault("websocket.ping_interval", 15*time.Second)
	v.SetDefault("websocket.write_timeout", 5*time.Second)
	v.SetDefault("websocket.reconnect_grace", 30*time.Second)
}

// Load 读取配置。path 为空时在 . 和 ./config 中查找可选的 config.yaml。
// envFiles 先由 godotenv 加载，不存在的文件忽略
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Game.DefaultImpostors < 1 {
		return fmt.Errorf("game.default_impostors must be at least 1, got %d", c.Game.DefaultImpostors)
	}
	if c.Game.MaxPlayers < 3 {
		return fmt.Errorf("game.max_players must be at least 3, got %d", c.Game.MaxPlayers)
	}
	return nil
}
