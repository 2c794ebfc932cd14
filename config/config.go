// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置按功能模块组织，
// 支持 JSON 加载与保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Transport.DialTimeout = config.Duration(10 * time.Second)
//
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config 是传输层的完整配置结构
//
// 配置按照功能模块组织：
//   - Transport: 发送 / 连接建立参数
//   - Listen: 通告主机与默认出站地址
//   - SCTP: SCTP 监听器参数
//   - Log: 日志级别
type Config struct {
	// Transport 传输层核心配置
	Transport TransportConfig `json:"transport"`

	// Listen 通告地址配置
	Listen ListenConfig `json:"listen"`

	// SCTP SCTP 监听器配置
	SCTP SCTPConfig `json:"sctp"`

	// Log 日志配置
	Log LogConfig `json:"log"`
}

// TransportConfig 传输层核心配置
type TransportConfig struct {
	// DialTimeout 拨号确认超时
	DialTimeout Duration `json:"dial_timeout"`

	// LockRetryInterval 软锁重试间隔
	LockRetryInterval Duration `json:"lock_retry_interval"`

	// LockRetryLimit 软锁重试次数上限
	LockRetryLimit int `json:"lock_retry_limit"`

	// MaxDatagramSize UDP 数据报上限；超过则触发 TCP 升级重试
	MaxDatagramSize int `json:"max_datagram_size"`

	// MaxConnections 单个监听器的准入上限
	MaxConnections int `json:"max_connections"`

	// ResolverCacheSize 解析结果缓存容量（0 关闭缓存）
	ResolverCacheSize int `json:"resolver_cache_size"`

	// ResolverCacheTTL 解析结果缓存有效期
	ResolverCacheTTL Duration `json:"resolver_cache_ttl"`
}

// ListenConfig 通告地址配置
//
// GetListenHost 的两个独立配置键（按地址族区分）与
// 两个独立的默认地址来源。留空表示自动探测主出站地址。
type ListenConfig struct {
	// Host4 显式通告的 IPv4 主机
	Host4 string `json:"host4"`

	// Host6 显式通告的 IPv6 主机
	Host6 string `json:"host6"`

	// Default4 auto 模式下的 IPv4 默认地址来源
	Default4 string `json:"default4"`

	// Default6 auto 模式下的 IPv6 默认地址来源
	Default6 string `json:"default6"`
}

// SCTPConfig SCTP 监听器配置
type SCTPConfig struct {
	// MaxReceiveBufferSize 关联接收缓冲区大小（字节）
	MaxReceiveBufferSize uint32 `json:"max_receive_buffer_size"`

	// MaxMessageSize 单条消息上限（字节）
	MaxMessageSize uint32 `json:"max_message_size"`

	// MaxAssociations 单个监听器允许的关联数上限
	MaxAssociations int `json:"max_associations"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别 (debug/info/warn/error)
	Level string `json:"level"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			DialTimeout:       Duration(30 * time.Second),
			LockRetryInterval: Duration(100 * time.Millisecond),
			LockRetryLimit:    300,
			MaxDatagramSize:   1300,
			MaxConnections:    1024,
			ResolverCacheSize: 512,
			ResolverCacheTTL:  Duration(60 * time.Second),
		},
		Listen: ListenConfig{},
		SCTP: SCTPConfig{
			MaxReceiveBufferSize: 1 << 20,
			MaxMessageSize:       1 << 16,
			MaxAssociations:      256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FromJSON 从 JSON 数据加载配置
//
// 以默认配置为基底，JSON 中出现的字段覆盖默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile 从 JSON 文件加载配置
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Duration 可读形式的时长配置值
//
// JSON 里写 "30s"、"1h30m" 这样的字符串；也接受纳秒整数。
type Duration time.Duration

// Duration 返回底层的 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON 序列化为可读字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON 按字符串或纳秒整数解析
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("duration must be a string or nanosecond count, got %T", v)
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Transport.DialTimeout.Duration() <= 0 {
		return fmt.Errorf("transport.dial_timeout must be positive")
	}
	if c.Transport.LockRetryInterval.Duration() <= 0 {
		return fmt.Errorf("transport.lock_retry_interval must be positive")
	}
	if c.Transport.LockRetryLimit <= 0 {
		return fmt.Errorf("transport.lock_retry_limit must be positive")
	}
	if c.Transport.MaxDatagramSize <= 0 {
		return fmt.Errorf("transport.max_datagram_size must be positive")
	}
	if c.SCTP.MaxAssociations <= 0 {
		return fmt.Errorf("sctp.max_associations must be positive")
	}
	return nil
}
