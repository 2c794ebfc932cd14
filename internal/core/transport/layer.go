// Package transport 实现信令栈的传输层核心
//
// 传输层在统一的寻址、连接复用与投递模型之后抽象
// UDP/TCP/TLS/SCTP/WS/WSS 六种传输：上层交给它一个目标
// （URI 或已解析的地址）和一个按所选传输渲染消息的函数，
// 本层负责找到或建立合适的连接并投递，失败时透明地尝试
// 后续候选地址 / 协议。
//
// 组成：
//   - layer.go     - Layer 聚合根：注册表查询、本地性判定、监听器管理
//   - send.go      - 发送编排器（逐候选回退、UDP→TCP 升级）
//   - establish.go - 连接建立器（软锁去重并发拨号）
//   - softlock.go  - 进程级协作锁表
//   - host.go      - 通告主机解析与 Route URI 构造
//   - resolver.go  - 解析结果 TTL 缓存
package transport

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/netaddr"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("core/transport")

// Layer 传输层
type Layer struct {
	cfg   *config.Config
	reg   *registry.Registry
	local *netaddr.Set
	locks *SoftLock
	clock clock.Clock

	// 协议驱动：protocol -> Driver
	drivers map[types.Protocol]interfaces.Driver

	// 解析器（外部协作者，带 TTL 缓存包装）
	resolver interfaces.Resolver

	// 默认入站消息处理器（监听选项未指定时使用）
	handler interfaces.MessageHandler

	// 租户级通告地址覆盖
	listenMu  sync.RWMutex
	tenantCfg map[types.Tenant]config.ListenConfig

	// StartTransport 幂等性串行化
	startMu sync.Mutex

	closed atomic.Bool
}

// Option Layer 配置选项
type Option func(*Layer) error

// WithResolver 设置目标解析器
func WithResolver(r interfaces.Resolver) Option {
	return func(l *Layer) error {
		l.resolver = r
		return nil
	}
}

// WithDriver 注册协议驱动
func WithDriver(d interfaces.Driver) Option {
	return func(l *Layer) error {
		l.drivers[d.Proto()] = d
		return nil
	}
}

// WithHandler 设置默认入站消息处理器
func WithHandler(h interfaces.MessageHandler) Option {
	return func(l *Layer) error {
		l.handler = h
		return nil
	}
}

// WithClock 设置时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(l *Layer) error {
		l.clock = c
		return nil
	}
}

// WithLocalSet 设置本机地址集合（测试用）
func WithLocalSet(s *netaddr.Set) Option {
	return func(l *Layer) error {
		l.local = s
		return nil
	}
}

// NewLayer 创建传输层
func NewLayer(cfg *config.Config, reg *registry.Registry, opts ...Option) (*Layer, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}

	l := &Layer{
		cfg:       cfg,
		reg:       reg,
		locks:     NewSoftLock(),
		clock:     clock.New(),
		drivers:   make(map[types.Protocol]interfaces.Driver),
		tenantCfg: make(map[types.Tenant]config.ListenConfig),
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if l.local == nil {
		l.local = netaddr.NewSet(cfg.Listen)
	}
	if l.resolver != nil {
		l.resolver = newCachingResolver(l.resolver,
			cfg.Transport.ResolverCacheSize,
			cfg.Transport.ResolverCacheTTL.Duration())
	}

	return l, nil
}

// Registry 返回底层注册表
func (l *Layer) Registry() *registry.Registry {
	return l.reg
}

// ============================================================================
//                              注册表查询
// ============================================================================

// GetListening 按 (协议, 地址族) 查询租户的监听端点
func (l *Layer) GetListening(tenant types.Tenant, proto types.Protocol, family types.Family) []registry.Entry {
	return l.reg.FindListening(tenant, proto, family)
}

// GetConnected 按精确键查询租户的已连接端点
func (l *Layer) GetConnected(tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, resource string) []registry.Entry {
	return l.reg.FindConnected(tenant, proto, ip, port, resource)
}

// GetAll 返回租户的全部传输记录
func (l *Layer) GetAll(tenant types.Tenant) []registry.Entry {
	return l.reg.All(tenant)
}

// AllConnections 跨租户枚举全部存活连接（诊断 / 测试接口）
func (l *Layer) AllConnections() []registry.Entry {
	return l.reg.AllConnections()
}

// ============================================================================
//                              本地性判定
// ============================================================================

// IsLocal 判断目标是否落在本租户的某个监听器上
//
// 对 URI 形式的目标：经解析器展开后逐候选与监听器集合比对，
// 首个命中即返回 true。单个候选的匹配规则：地址字面相等，或
// 候选 IP 属于本机地址集合且监听器绑定在同地址族的通配地址上
// （协议 / 端口 / 资源相等）。
func (l *Layer) IsLocal(ctx context.Context, tenant types.Tenant, uri string) bool {
	if l.resolver == nil {
		return false
	}

	candidates, err := l.resolver.Resolve(ctx, tenant, uri)
	if err != nil {
		logger.Debug("本地性判定：解析失败", "uri", uri, "error", err)
		return false
	}

	for _, c := range candidates {
		for _, e := range l.reg.FindListening(tenant, c.Proto, types.FamilyOf(c.IP)) {
			tr := e.Transport
			if tr.ListenPort != c.Port || tr.Resource != c.Resource {
				continue
			}
			if tr.ListenIP.Unmap() == c.IP.Unmap() {
				return true
			}
			if types.IsWildcard(tr.ListenIP) && l.local.Contains(c.IP) {
				return true
			}
		}
	}
	return false
}

// IsLocalIP 判断 IP 是否为本机地址
//
// 任一地址族的通配地址，或缓存的本机地址集合中的成员。
func (l *Layer) IsLocalIP(ip netip.Addr) bool {
	return types.IsWildcard(ip) || l.local.Contains(ip)
}

// ============================================================================
//                              监听器管理
// ============================================================================

// StartTransport 为租户启动一个监听器（幂等）
//
// 若该租户在同协议下已有完全相同 (ip, port) 的监听器，
// 直接返回其拥有者，不会重复启动。
func (l *Layer) StartTransport(ctx context.Context, tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	l.startMu.Lock()
	defer l.startMu.Unlock()

	if port != 0 {
		for _, e := range l.reg.ListListeners(tenant) {
			tr := e.Transport
			if tr.Proto == proto && tr.ListenPort == port && tr.ListenIP.Unmap() == ip.Unmap() && tr.Resource == opts.Resource {
				if lst, ok := e.Owner.(interfaces.Listener); ok {
					logger.Debug("监听器已存在，复用", "tenant", tenant, "transport", tr.String())
					return lst, nil
				}
			}
		}
	}

	driver, ok := l.drivers[proto]
	if !ok {
		return nil, ErrUnsupportedProtocol
	}

	if opts.Handler == nil {
		opts.Handler = l.handler
	}
	if opts.MaxConnections == 0 {
		opts.MaxConnections = l.cfg.Transport.MaxConnections
	}

	lst, err := driver.Listen(ctx, tenant, ip, port, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("监听器已启动", "tenant", tenant, "transport", lst.Transport().String())
	return lst, nil
}

// ============================================================================
//                              运维接口 / 生命周期
// ============================================================================

// StopAllConnections 强制停止全部存活连接（诊断 / 测试接口）
func (l *Layer) StopAllConnections() error {
	var g errgroup.Group
	for _, e := range l.reg.AllConnections() {
		closer, ok := e.Owner.(interfaces.Connection)
		if !ok {
			continue
		}
		g.Go(closer.Close)
	}
	return g.Wait()
}

// Close 关闭传输层：停止全部连接与监听器
func (l *Layer) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	logger.Info("正在关闭传输层")
	l.locks.Close()

	err := l.StopAllConnections()

	var g errgroup.Group
	for _, e := range l.reg.AllListeners() {
		lst, ok := e.Owner.(interfaces.Listener)
		if !ok {
			continue
		}
		g.Go(lst.Close)
	}
	return multierr.Append(err, g.Wait())
}

// SetTenantListen 设置租户级的通告地址配置覆盖
func (l *Layer) SetTenantListen(tenant types.Tenant, cfg config.ListenConfig) {
	l.listenMu.Lock()
	l.tenantCfg[tenant] = cfg
	l.listenMu.Unlock()
}

// listenConfig 返回租户生效的通告地址配置
func (l *Layer) listenConfig(tenant types.Tenant) config.ListenConfig {
	l.listenMu.RLock()
	defer l.listenMu.RUnlock()

	if cfg, ok := l.tenantCfg[tenant]; ok {
		return cfg
	}
	return l.cfg.Listen
}
