// Package tcp 提供 TCP 与 TLS 字节流传输驱动
//
// 两种协议共享同一实现：TLS 是在监听 / 拨号两端套上
// crypto/tls 的 TCP。字节流不保留消息边界，消息切分属于
// 上层解析器；本层按到达的块向上递交。
//
// 准入控制用 netutil.LimitListener 限制监听器的并发连接数。
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/jbenet/goprocess"
	"golang.org/x/net/netutil"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("transport/tcp")

// 接收缓冲区大小
const bufferSize = 65535

// Driver TCP / TLS 协议驱动
type Driver struct {
	proto types.Protocol
	cfg   *config.Config
	reg   *registry.Registry
}

var _ interfaces.Driver = (*Driver)(nil)

// NewDriver 创建字节流驱动
//
// proto 必须是 ProtocolTCP 或 ProtocolTLS。
func NewDriver(proto types.Protocol, cfg *config.Config, reg *registry.Registry) *Driver {
	return &Driver{proto: proto, cfg: cfg, reg: reg}
}

// Proto 返回驱动服务的协议
func (d *Driver) Proto() types.Protocol {
	return d.proto
}

// Listen 绑定一个字节流监听器
func (d *Driver) Listen(_ context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	network := "tcp4"
	if types.FamilyOf(ip) == types.FamilyIPv6 {
		network = "tcp6"
	}

	base, err := net.Listen(network, net.TCPAddrFromAddrPort(netip.AddrPortFrom(ip, port)).String())
	if err != nil {
		return nil, fmt.Errorf("%s listen %s:%d: %w", d.proto, ip, port, err)
	}

	// 准入控制：限制并发连接数
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = d.cfg.Transport.MaxConnections
	}
	ln := netutil.LimitListener(base, maxConns)

	if d.proto == types.ProtocolTLS {
		if opts.TLSConfig == nil {
			base.Close()
			return nil, fmt.Errorf("tls listen: missing TLS config")
		}
		ln = tls.NewListener(ln, opts.TLSConfig)
	}

	bound := base.Addr().(*net.TCPAddr).AddrPort()
	tr := types.Transport{
		Proto:      d.proto,
		LocalIP:    ip,
		LocalPort:  bound.Port(),
		ListenIP:   ip,
		ListenPort: bound.Port(),
	}

	l := &Listener{
		driver:  d,
		tenant:  tenant,
		tr:      tr,
		ln:      ln,
		handler: opts.Handler,
		tlsConf: opts.TLSConfig,
	}
	// 收尾要等接受循环退出，而接受循环阻塞在 Accept 上；
	// 关闭信号一出现就先关监听套接字解除阻塞
	l.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-l.proc.Closing()
		ln.Close()
	}()

	d.reg.RegisterListener(tenant, tr, l)
	l.proc.Go(l.acceptLoop)

	logger.Info("字节流监听器已绑定", "proto", d.proto.String(), "tenant", tenant, "addr", bound.String())
	return l, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener TCP / TLS 监听器
type Listener struct {
	driver  *Driver
	tenant  types.Tenant
	tr      types.Transport
	ln      net.Listener
	handler interfaces.MessageHandler
	tlsConf *tls.Config
	proc    goprocess.Process
}

var _ interfaces.Listener = (*Listener)(nil)

// Process 返回监听器的生命周期进程
func (l *Listener) Process() goprocess.Process {
	return l.proc
}

// Transport 返回监听器的传输记录
func (l *Listener) Transport() types.Transport {
	return l.tr
}

// Close 停止监听器及其全部连接
func (l *Listener) Close() error {
	return l.proc.Close()
}

// acceptLoop 接受入站连接循环
func (l *Listener) acceptLoop(proc goprocess.Process) {
	for {
		sock, err := l.ln.Accept()
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				logger.Debug("接受连接失败，监听器退出", "proto", l.driver.proto.String(), "error", err)
				go l.proc.Close()
			}
			return
		}
		l.adoptConn(sock)
	}
}

// adoptConn 把已建立的套接字纳入管理
func (l *Listener) adoptConn(sock net.Conn) *Conn {
	tr := l.tr
	if local, err := netip.ParseAddrPort(sock.LocalAddr().String()); err == nil {
		tr.LocalIP = local.Addr().Unmap()
		tr.LocalPort = local.Port()
	}
	if remote, err := netip.ParseAddrPort(sock.RemoteAddr().String()); err == nil {
		tr.RemoteIP = remote.Addr().Unmap()
		tr.RemotePort = remote.Port()
	}

	c := &Conn{
		tr:      tr,
		sock:    sock,
		handler: l.handler,
	}
	// 读循环阻塞在 Read 上，先关套接字再等它退出
	c.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-c.proc.Closing()
		sock.Close()
	}()
	// 连接随监听器一起关闭
	l.proc.AddChild(c.proc)

	l.driver.reg.RegisterConnection(l.tenant, tr, c)
	c.proc.Go(c.readLoop)

	logger.Debug("字节流连接已建立", "proto", tr.Proto.String(),
		"tenant", l.tenant, "remote", sock.RemoteAddr().String())
	return c
}

// Connect 向对端发起字节流连接
func (l *Listener) Connect(ctx context.Context, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (interfaces.Connection, error) {
	target := netip.AddrPortFrom(ip.Unmap(), port).String()

	var sock net.Conn
	var err error
	if l.driver.proto == types.ProtocolTLS {
		conf := opts.TLSConfig
		if conf == nil {
			conf = l.tlsConf
		}
		if conf == nil {
			conf = &tls.Config{ServerName: ip.String()}
		}
		dialer := &tls.Dialer{Config: conf}
		sock, err = dialer.DialContext(ctx, "tcp", target)
	} else {
		dialer := &net.Dialer{}
		sock, err = dialer.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		return nil, fmt.Errorf("%s connect %s: %w", l.driver.proto, target, err)
	}

	return l.adoptConn(sock), nil
}

// ============================================================================
//                              Conn
// ============================================================================

// Conn 一条字节流连接
type Conn struct {
	tr      types.Transport
	sock    net.Conn
	handler interfaces.MessageHandler
	proc    goprocess.Process
	closed  atomic.Bool
}

var _ interfaces.Connection = (*Conn)(nil)

// Process 返回连接的生命周期进程
func (c *Conn) Process() goprocess.Process {
	return c.proc
}

// Transport 返回连接的传输记录
func (c *Conn) Transport() types.Transport {
	return c.tr
}

// Send 把整条消息写入字节流
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return types.ErrConnectionClosed
	}

	for len(payload) > 0 {
		n, err := c.sock.Write(payload)
		if err != nil {
			return fmt.Errorf("%s send: %w", c.tr.Proto, err)
		}
		payload = payload[n:]
	}
	return nil
}

// Close 停止连接
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.proc.Close()
}

// readLoop 入站数据循环：按到达的块向上递交
func (c *Conn) readLoop(proc goprocess.Process) {
	buf := make([]byte, bufferSize)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 && c.handler != nil {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			c.handler(c.tr, payload)
		}
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				go c.proc.Close()
			}
			return
		}
	}
}
