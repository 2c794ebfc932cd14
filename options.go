package siptransport

import (
	"fmt"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// stackOptions New 的构建参数集
type stackOptions struct {
	cfg       *config.Config
	resolver  interfaces.Resolver
	handler   interfaces.MessageHandler
	protocols []types.Protocol
}

// Option Stack 配置选项
type Option func(*stackOptions) error

// defaultProtocols 默认装载全部协议驱动
var defaultProtocols = []types.Protocol{
	types.ProtocolUDP,
	types.ProtocolTCP,
	types.ProtocolTLS,
	types.ProtocolSCTP,
	types.ProtocolWS,
	types.ProtocolWSS,
}

// WithConfig 使用给定配置
func WithConfig(cfg *config.Config) Option {
	return func(o *stackOptions) error {
		if cfg == nil {
			return fmt.Errorf("siptransport: nil config")
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *stackOptions) error {
		cfg, err := config.FromFile(path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithResolver 使用给定目标解析器
//
// 缺省使用静态解析器（仅解析 IP 字面量 URI）。
func WithResolver(r interfaces.Resolver) Option {
	return func(o *stackOptions) error {
		o.resolver = r
		return nil
	}
}

// WithHandler 设置默认入站消息处理器
func WithHandler(h interfaces.MessageHandler) Option {
	return func(o *stackOptions) error {
		o.handler = h
		return nil
	}
}

// WithProtocols 限定装载的协议驱动集合
func WithProtocols(protocols ...types.Protocol) Option {
	return func(o *stackOptions) error {
		if len(protocols) == 0 {
			return fmt.Errorf("siptransport: empty protocol list")
		}
		for _, p := range protocols {
			if p == types.ProtocolUnknown {
				return fmt.Errorf("siptransport: unknown protocol in list")
			}
		}
		o.protocols = protocols
		return nil
	}
}
