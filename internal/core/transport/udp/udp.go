// Package udp 提供 UDP 数据报传输驱动
//
// UDP 没有网络握手：监听器直接在共享套接字上收发，
// 「连接」只是携带对端地址的轻量发送句柄，注册后供
// 发送编排器复用。数据报超过上限时返回
// types.ErrMessageTooLarge，由编排器升级为 TCP 重试。
package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/jbenet/goprocess"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("transport/udp")

// 接收缓冲区大小
const bufferSize = 65535

// Driver UDP 协议驱动
type Driver struct {
	cfg *config.Config
	reg *registry.Registry
}

var _ interfaces.Driver = (*Driver)(nil)

// NewDriver 创建 UDP 驱动
func NewDriver(cfg *config.Config, reg *registry.Registry) *Driver {
	return &Driver{cfg: cfg, reg: reg}
}

// Proto 返回驱动服务的协议
func (d *Driver) Proto() types.Protocol {
	return types.ProtocolUDP
}

// Listen 绑定一个 UDP 监听器
func (d *Driver) Listen(_ context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	network := "udp4"
	if types.FamilyOf(ip) == types.FamilyIPv6 {
		network = "udp6"
	}

	sock, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, port)))
	if err != nil {
		return nil, fmt.Errorf("udp listen %s:%d: %w", ip, port, err)
	}

	// 记录实际绑定端口（端口 0 会分配临时端口）
	bound := sock.LocalAddr().(*net.UDPAddr).AddrPort()
	tr := types.Transport{
		Proto:      types.ProtocolUDP,
		LocalIP:    ip,
		LocalPort:  bound.Port(),
		ListenIP:   ip,
		ListenPort: bound.Port(),
	}

	l := &Listener{
		driver:  d,
		tenant:  tenant,
		tr:      tr,
		sock:    sock,
		handler: opts.Handler,
		maxSize: d.cfg.Transport.MaxDatagramSize,
	}
	// 收尾要等读循环退出，而读循环阻塞在套接字上；
	// 关闭信号一出现就先关套接字解除阻塞
	l.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-l.proc.Closing()
		sock.Close()
	}()

	d.reg.RegisterListener(tenant, tr, l)
	l.proc.Go(l.readLoop)

	logger.Info("UDP 监听器已绑定", "tenant", tenant, "addr", bound.String())
	return l, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener UDP 监听器
//
// 拥有共享套接字；入站数据报直接向上递交，出站连接共享
// 同一套接字发送。
type Listener struct {
	driver  *Driver
	tenant  types.Tenant
	tr      types.Transport
	sock    *net.UDPConn
	handler interfaces.MessageHandler
	maxSize int
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

// Connect 创建到对端的轻量连接
//
// 没有握手；绑定对端地址的发送句柄注册进注册表即完成。
func (l *Listener) Connect(_ context.Context, ip netip.Addr, port uint16, _ interfaces.ConnectOptions) (interfaces.Connection, error) {
	tr := l.tr
	tr.RemoteIP = ip
	tr.RemotePort = port

	c := &Conn{
		sock:    l.sock,
		tr:      tr,
		remote:  netip.AddrPortFrom(ip.Unmap(), port),
		maxSize: l.maxSize,
	}
	// 连接随监听器一起关闭
	c.proc = goprocess.WithParent(l.proc)

	l.driver.reg.RegisterConnection(l.tenant, tr, c)
	logger.Debug("UDP 连接已创建", "tenant", l.tenant, "remote", c.remote.String())
	return c, nil
}

// Close 停止监听器；注册表条目随进程终止自动清理
func (l *Listener) Close() error {
	return l.proc.Close()
}

// readLoop 入站数据报循环
func (l *Listener) readLoop(proc goprocess.Process) {
	buf := make([]byte, bufferSize)
	for {
		n, from, err := l.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				logger.Debug("UDP 读取失败，监听器退出", "error", err)
				// 读循环已返回，异步关闭以触发注册表清理
				go l.proc.Close()
			}
			return
		}

		if l.handler == nil {
			continue
		}

		tr := l.tr
		tr.RemoteIP = from.Addr().Unmap()
		tr.RemotePort = from.Port()

		payload := make([]byte, n)
		copy(payload, buf[:n])
		l.handler(tr, payload)
	}
}

// ============================================================================
//                              Conn
// ============================================================================

// Conn UDP 轻量连接
//
// 不拥有套接字，复用监听器的绑定套接字发送。
type Conn struct {
	sock    *net.UDPConn
	tr      types.Transport
	remote  netip.AddrPort
	maxSize int
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

// Send 投递一条数据报
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return types.ErrConnectionClosed
	}
	if len(payload) > c.maxSize {
		return fmt.Errorf("%w: %d > %d", types.ErrMessageTooLarge, len(payload), c.maxSize)
	}

	_, err := c.sock.WriteToUDPAddrPort(payload, c.remote)
	if err != nil {
		return fmt.Errorf("udp send: %w", err)
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
