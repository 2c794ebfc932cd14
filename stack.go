package siptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/internal/core/transport"
	"github.com/dep2p/go-siptransport/internal/core/transport/sctp"
	"github.com/dep2p/go-siptransport/internal/core/transport/tcp"
	"github.com/dep2p/go-siptransport/internal/core/transport/udp"
	"github.com/dep2p/go-siptransport/internal/core/transport/ws"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/resolver"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("siptransport")

// Stack 传输栈
//
// Stack 是使用方与传输层交互的主入口，是聚合内部组件的门面：
// 注册表、传输层核心（发送编排 / 连接建立 / 本地性判定）与
// 各协议驱动。所有方法都可并发调用。
type Stack struct {
	cfg   *config.Config
	reg   *registry.Registry
	layer *transport.Layer
}

// New 创建传输栈
//
// 缺省装载全部六种协议驱动，使用静态解析器与默认配置。
func New(opts ...Option) (*Stack, error) {
	o := &stackOptions{
		cfg:       config.NewConfig(),
		protocols: defaultProtocols,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	applyLogLevel(o.cfg.Log.Level)

	if o.resolver == nil {
		o.resolver = resolver.NewStatic()
	}

	reg := registry.New()

	layerOpts := []transport.Option{transport.WithResolver(o.resolver)}
	if o.handler != nil {
		layerOpts = append(layerOpts, transport.WithHandler(o.handler))
	}
	for _, p := range o.protocols {
		d, err := newDriver(p, o.cfg, reg)
		if err != nil {
			return nil, err
		}
		layerOpts = append(layerOpts, transport.WithDriver(d))
	}

	layer, err := transport.NewLayer(o.cfg, reg, layerOpts...)
	if err != nil {
		return nil, err
	}

	logger.Info("传输栈已创建", "version", Version, "protocols", len(o.protocols))
	return &Stack{cfg: o.cfg, reg: reg, layer: layer}, nil
}

// newDriver 按协议构造驱动
func newDriver(p types.Protocol, cfg *config.Config, reg *registry.Registry) (interfaces.Driver, error) {
	switch p {
	case types.ProtocolUDP:
		return udp.NewDriver(cfg, reg), nil
	case types.ProtocolTCP, types.ProtocolTLS:
		return tcp.NewDriver(p, cfg, reg), nil
	case types.ProtocolSCTP:
		return sctp.NewDriver(cfg, reg), nil
	case types.ProtocolWS, types.ProtocolWSS:
		return ws.NewDriver(p, cfg, reg), nil
	default:
		return nil, fmt.Errorf("siptransport: no driver for protocol %s", p)
	}
}

// applyLogLevel 应用配置的日志级别
func applyLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(slog.LevelDebug)
	case "warn":
		log.SetLevel(slog.LevelWarn)
	case "error":
		log.SetLevel(slog.LevelError)
	case "", "info":
		// 默认级别
	}
}

// ============================================================================
//                              门面方法
// ============================================================================

// Config 返回生效配置
func (s *Stack) Config() *config.Config {
	return s.cfg
}

// Layer 返回传输层核心（测试 / 高级用法）
func (s *Stack) Layer() *transport.Layer {
	return s.layer
}

// Listen 为租户启动一个监听器（幂等）
func (s *Stack) Listen(ctx context.Context, tenant Tenant, proto Protocol, ip netip.Addr, port uint16, opts ListenOptions) (Listener, error) {
	return s.layer.StartTransport(ctx, tenant, proto, ip, port, opts)
}

// Connect 找到或建立到对端的连接
func (s *Stack) Connect(ctx context.Context, tenant Tenant, proto Protocol, ip netip.Addr, port uint16, resource string, opts ConnectOptions) (Connection, Transport, error) {
	return s.layer.Connect(ctx, tenant, proto, ip, port, resource, opts)
}

// Send 逐候选发送消息，返回实际投递的渲染结果
func (s *Stack) Send(ctx context.Context, tenant Tenant, candidates []Candidate, render RenderFunc, opts SendOptions) ([]byte, error) {
	return s.layer.Send(ctx, tenant, candidates, render, opts)
}

// IsLocal 判断目标是否落在本租户的某个监听器上
func (s *Stack) IsLocal(ctx context.Context, tenant Tenant, uri string) bool {
	return s.layer.IsLocal(ctx, tenant, uri)
}

// IsLocalIP 判断 IP 是否为本机地址
func (s *Stack) IsLocalIP(ip netip.Addr) bool {
	return s.layer.IsLocalIP(ip)
}

// GetListening 按 (协议, 地址族) 查询租户的监听端点
func (s *Stack) GetListening(tenant Tenant, proto Protocol, family Family) []registry.Entry {
	return s.layer.GetListening(tenant, proto, family)
}

// GetConnected 按精确键查询租户的已连接端点
func (s *Stack) GetConnected(tenant Tenant, proto Protocol, ip netip.Addr, port uint16, resource string) []registry.Entry {
	return s.layer.GetConnected(tenant, proto, ip, port, resource)
}

// GetAll 返回租户的全部传输记录
func (s *Stack) GetAll(tenant Tenant) []registry.Entry {
	return s.layer.GetAll(tenant)
}

// Connections 跨租户枚举全部存活连接（诊断接口）
func (s *Stack) Connections() []registry.Entry {
	return s.layer.AllConnections()
}

// ListenHost 解析监听器的通告主机
func (s *Stack) ListenHost(tenant Tenant, ip netip.Addr, opts HostOptions) string {
	return s.layer.GetListenHost(tenant, ip, opts)
}

// SetTenantListen 设置租户级的通告地址配置覆盖
func (s *Stack) SetTenantListen(tenant Tenant, cfg config.ListenConfig) {
	s.layer.SetTenantListen(tenant, cfg)
}

// StopAllConnections 强制停止全部存活连接（诊断接口）
func (s *Stack) StopAllConnections() error {
	return s.layer.StopAllConnections()
}

// Close 关闭传输栈：停止全部连接与监听器
func (s *Stack) Close() error {
	logger.Info("正在关闭传输栈")
	return s.layer.Close()
}
