package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bassista/go_tilecache/internal/logger"
)

const envPrefix = "GO_TILECACHE"

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Cache  CacheConfig
	Worker WorkerConfig
	Prune  PruneConfig
	Misc   MiscConfig
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutDownTimeout    time.Duration
	RequestTimeout     time.Duration
	CORSAllowedOrigins string
}

// StoreConfig selects the persistent tile store.
type StoreConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// CacheConfig selects the hot tile cache in front of the store.
type CacheConfig struct {
	Type          string
	MemoryTiles   int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

type WorkerConfig struct {
	TaskTimeout time.Duration
}

type PruneConfig struct {
	Enabled  bool
	Interval time.Duration
	MaxBytes int64
}

type MiscConfig struct {
	GinMode  string
	LogLevel string
}

// LoadConfig reads .env, config.yaml and GO_TILECACHE_* variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithComponent("config").Warnf("cannot read .env file: %v", err)
	}

	viper.Reset()
	confPath := getEnvOrDefault(envPrefix+"_CONFIG_PATH", "./config")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(confPath)

	setDefaults(confPath)

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		logger.WithComponent("config").Info("No config file found, using defaults and env vars")
	} else {
		logger.WithComponent("config").Debugf("using config file %s", viper.ConfigFileUsed())
	}

	port, err := getEnvOrViperPort("PORT", "server.port")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        viper.GetDuration("server.read_timeout"),
			WriteTimeout:       viper.GetDuration("server.write_timeout"),
			IdleTimeout:        viper.GetDuration("server.idle_timeout"),
			ShutDownTimeout:    viper.GetDuration("server.shutdown_timeout"),
			RequestTimeout:     viper.GetDuration("server.request_timeout"),
			CORSAllowedOrigins: viper.GetString("server.cors_allowed_origins"),
		},
		Store: StoreConfig{
			Driver:       viper.GetString("store.driver"),
			DSN:          viper.GetString("store.dsn"),
			MaxOpenConns: viper.GetInt("store.max_open_conns"),
		},
		Cache: CacheConfig{
			Type:          viper.GetString("cache.type"),
			MemoryTiles:   viper.GetInt("cache.memory_tiles"),
			RedisAddr:     viper.GetString("cache.redis.addr"),
			RedisPassword: viper.GetString("cache.redis.password"),
			RedisDB:       viper.GetInt("cache.redis.db"),
			RedisTTL:      viper.GetDuration("cache.redis.ttl"),
		},
		Worker: WorkerConfig{
			TaskTimeout: viper.GetDuration("worker.task_timeout"),
		},
		Prune: PruneConfig{
			Enabled:  viper.GetBool("prune.enabled"),
			Interval: viper.GetDuration("prune.interval"),
			MaxBytes: viper.GetInt64("prune.max_bytes"),
		},
		Misc: MiscConfig{
			GinMode:  viper.GetString("misc.gin_mode"),
			LogLevel: getEnvOrDefault("LOG_LEVEL", viper.GetString("misc.log_level")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Store.Driver == "sqlite" {
		if err := ensureDir(cfg.Store.DSN); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func setDefaults(confPath string) {
	viper.SetDefault("server.port", 8084)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 5*time.Second)
	viper.SetDefault("server.request_timeout", 10*time.Second)
	viper.SetDefault("server.cors_allowed_origins", "*")

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", filepath.Join(confPath, "data", "tiles.db"))
	viper.SetDefault("store.max_open_conns", 10)

	viper.SetDefault("cache.type", "memory")
	viper.SetDefault("cache.memory_tiles", 2048)
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.ttl", time.Hour)

	viper.SetDefault("worker.task_timeout", 30*time.Second)

	viper.SetDefault("prune.enabled", false)
	viper.SetDefault("prune.interval", 5*time.Minute)
	viper.SetDefault("prune.max_bytes", int64(1)<<30)

	viper.SetDefault("misc.gin_mode", "release")
	viper.SetDefault("misc.log_level", "info")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.IdleTimeout <= 0 {
		return errors.New("server read/write/idle timeouts must be positive")
	}
	if c.Server.ShutDownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server request timeout must be positive")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return errors.New("store dsn must not be empty")
	}
	if c.Store.MaxOpenConns < 0 {
		return fmt.Errorf("invalid store max open conns: %d", c.Store.MaxOpenConns)
	}

	switch strings.ToLower(c.Cache.Type) {
	case "", "memory":
		if c.Cache.MemoryTiles < 0 {
			return fmt.Errorf("invalid cache memory tiles: %d", c.Cache.MemoryTiles)
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache redis addr must not be empty")
		}
	case "disabled", "none":
	default:
		return fmt.Errorf("unsupported cache type %q", c.Cache.Type)
	}

	if c.Worker.TaskTimeout < 0 {
		return errors.New("worker task timeout must not be negative")
	}
	if c.Prune.Enabled {
		if c.Prune.Interval <= 0 {
			return errors.New("prune interval must be positive")
		}
		if c.Prune.MaxBytes <= 0 {
			return errors.New("prune max bytes must be positive")
		}
	}
	return nil
}

// WatchLogLevel re-applies misc.log_level whenever the config file changes.
func WatchLogLevel() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(onConfigChange)
	viper.WatchConfig()
	logger.WithComponent("config").Debugf("watching %s for log level changes", viper.ConfigFileUsed())
}

func onConfigChange(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	level := viper.GetString("misc.log_level")
	if err := logger.SetLevel(level); err != nil {
		logger.WithComponent("config").Warnf("config reload: %v", err)
		return
	}
	logger.WithComponent("config").Infof("config %s changed, log level now %s", e.Name, level)
}

func getEnvOrViperPort(envKey, viperKey string) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", envKey, v, err)
		}
		return port, nil
	}
	return viper.GetInt(viperKey), nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create store directory: %w", err)
	}
	return nil
}
