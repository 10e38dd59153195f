package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// Framing 入站/出站消息在字节流上的分帧方式
type Framing string

const (
	// FramingRaw 兼容旧客户端：每次读取（最多 ReadBufferSize 字节）即一条消息，快照无分隔直接写出
	FramingRaw Framing = "raw"
	// FramingLines 按 '\n' 分隔消息，每个快照后追加 '\n'
	FramingLines Framing = "lines"
)

type LogConfig struct {
	File    string `yaml:"file" toml:"file" json:"file" jsonschema:"description=rotating log file; empty disables file output"`
	Level   string `yaml:"level" toml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Console bool   `yaml:"console" toml:"console" json:"console"`
}

// Config 服务配置
type Config struct {
	TCPAddr             string    `yaml:"tcp_addr" toml:"tcp_addr" json:"tcp_addr" jsonschema:"description=TCP listen address; empty disables"`
	HTTPAddr            string    `yaml:"http_addr" toml:"http_addr" json:"http_addr" jsonschema:"description=WebSocket and admin listen address; empty disables"`
	TickIntervalMs      int       `yaml:"tick_interval_ms" toml:"tick_interval_ms" json:"tick_interval_ms" jsonschema:"minimum=1"`
	SubscriberBacklog   int       `yaml:"subscriber_backlog" toml:"subscriber_backlog" json:"subscriber_backlog" jsonschema:"minimum=1"`
	ReadBufferSize      int       `yaml:"read_buffer_size" toml:"read_buffer_size" json:"read_buffer_size" jsonschema:"minimum=1"`
	Framing             Framing   `yaml:"framing" toml:"framing" json:"framing" jsonschema:"enum=raw,enum=lines"`
	MaxQueuedUpdates    int       `yaml:"max_queued_updates" toml:"max_queued_updates" json:"max_queued_updates" jsonschema:"minimum=0"`
	MaxUpdatesPerSecond float64   `yaml:"max_updates_per_second" toml:"max_updates_per_second" json:"max_updates_per_second" jsonschema:"minimum=0"`
	UpdateBurst         int       `yaml:"update_burst" toml:"update_burst" json:"update_burst" jsonschema:"minimum=1"`
	WriteTimeoutMs      int       `yaml:"write_timeout_ms" toml:"write_timeout_ms" json:"write_timeout_ms" jsonschema:"minimum=0"`
	IdleTimeoutMs       int       `yaml:"idle_timeout_ms" toml:"idle_timeout_ms" json:"idle_timeout_ms" jsonschema:"minimum=0"`
	Log                 LogConfig `yaml:"log" toml:"log" json:"log"`
}

// DefaultConfig 默认配置：20 TPS，每个订阅者积压 10 个快照
func DefaultConfig() Config {
	return Config{
		TCPAddr:           "127.0.0.1:9132",
		HTTPAddr:          ":8080",
		TickIntervalMs:    50,
		SubscriberBacklog: DefaultBacklog,
		ReadBufferSize:    128,
		Framing:           FramingRaw,
		UpdateBurst:       10,
		WriteTimeoutMs:    5000,
		Log: LogConfig{
			File:    "posync.log",
			Level:   "info",
			Console: true,
		},
	}
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.TickIntervalMs <= 0:
		return fmt.Errorf("%w: tick_interval_ms must be > 0", ErrInvalidConfig)
	case c.SubscriberBacklog <= 0:
		return fmt.Errorf("%w: subscriber_backlog must be > 0", ErrInvalidConfig)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("%w: read_buffer_size must be > 0", ErrInvalidConfig)
	case c.MaxQueuedUpdates < 0:
		return fmt.Errorf("%w: max_queued_updates must be >= 0", ErrInvalidConfig)
	case c.MaxUpdatesPerSecond < 0:
		return fmt.Errorf("%w: max_updates_per_second must be >= 0", ErrInvalidConfig)
	case c.MaxUpdatesPerSecond > 0 && c.UpdateBurst <= 0:
		return fmt.Errorf("%w: update_burst must be > 0 when rate limiting", ErrInvalidConfig)
	case c.WriteTimeoutMs < 0 || c.IdleTimeoutMs < 0:
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidConfig)
	}
	switch c.Framing {
	case FramingRaw, FramingLines:
	default:
		return fmt.Errorf("%w: unknown framing %q", ErrInvalidConfig, c.Framing)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

// LoadConfig 在默认配置之上按顺序叠加配置文件（.yaml/.yml/.toml/.json），后者覆盖前者
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range paths {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("could not process config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	}
	return fmt.Errorf("not in a valid format")
}

// YAML 输出 YAML 文本，用于 `posync config`
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
