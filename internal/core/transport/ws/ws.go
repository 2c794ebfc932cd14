// Package ws 提供 WebSocket (WS/WSS) 传输驱动
//
// 基于 gorilla/websocket：监听端用 Upgrader 把 HTTP 请求升级为
// WebSocket 连接，拨号端用 Dialer。URL 路径充当资源判别符，
// 允许多个逻辑端点共享同一网络地址。
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/jbenet/goprocess"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("transport/ws")

// 默认资源路径
const defaultResource = "/"

// Driver WS / WSS 协议驱动
type Driver struct {
	proto types.Protocol
	cfg   *config.Config
	reg   *registry.Registry
}

var _ interfaces.Driver = (*Driver)(nil)

// NewDriver 创建 WebSocket 驱动
//
// proto 必须是 ProtocolWS 或 ProtocolWSS。
func NewDriver(proto types.Protocol, cfg *config.Config, reg *registry.Registry) *Driver {
	return &Driver{proto: proto, cfg: cfg, reg: reg}
}

// Proto 返回驱动服务的协议
func (d *Driver) Proto() types.Protocol {
	return d.proto
}

// Listen 绑定一个 WebSocket 监听器
func (d *Driver) Listen(_ context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	network := "tcp4"
	if types.FamilyOf(ip) == types.FamilyIPv6 {
		network = "tcp6"
	}

	base, err := net.Listen(network, net.TCPAddrFromAddrPort(netip.AddrPortFrom(ip, port)).String())
	if err != nil {
		return nil, fmt.Errorf("%s listen %s:%d: %w", d.proto, ip, port, err)
	}

	ln := base
	if d.proto == types.ProtocolWSS {
		if opts.TLSConfig == nil {
			base.Close()
			return nil, fmt.Errorf("wss listen: missing TLS config")
		}
		ln = tls.NewListener(base, opts.TLSConfig)
	}

	resource := opts.Resource
	if resource == "" {
		resource = defaultResource
	}

	bound := base.Addr().(*net.TCPAddr).AddrPort()
	tr := types.Transport{
		Proto:      d.proto,
		LocalIP:    ip,
		LocalPort:  bound.Port(),
		ListenIP:   ip,
		ListenPort: bound.Port(),
		Resource:   resource,
	}

	l := &Listener{
		driver:  d,
		tenant:  tenant,
		tr:      tr,
		handler: opts.Handler,
		tlsConf: opts.TLSConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"sip"},
			// 信令网关通常面向任意来源的终端
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(resource, l.serveUpgrade)
	srv := &http.Server{Handler: mux}

	// 收尾要等 Serve 返回，而 Serve 阻塞在监听套接字上；
	// 关闭信号一出现就先关服务端解除阻塞
	l.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-l.proc.Closing()
		srv.Close()
	}()

	d.reg.RegisterListener(tenant, tr, l)
	l.proc.Go(func(proc goprocess.Process) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case <-proc.Closing():
			default:
				logger.Debug("WebSocket 服务退出", "error", err)
				go l.proc.Close()
			}
		}
	})

	logger.Info("WebSocket 监听器已绑定", "proto", d.proto.String(),
		"tenant", tenant, "addr", bound.String(), "resource", resource)
	return l, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener WebSocket 监听器
type Listener struct {
	driver   *Driver
	tenant   types.Tenant
	tr       types.Transport
	handler  interfaces.MessageHandler
	tlsConf  *tls.Config
	upgrader websocket.Upgrader
	proc     goprocess.Process
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

// serveUpgrade 把入站 HTTP 请求升级为 WebSocket 连接
func (l *Listener) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	sock, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket 升级失败", "remote", r.RemoteAddr, "error", err)
		return
	}
	l.adoptConn(sock, l.tr.Resource)
}

// adoptConn 把已建立的 WebSocket 连接纳入管理
//
// resource 是连接实际使用的路径判别符：入站取监听资源，
// 出站取拨号路径。
func (l *Listener) adoptConn(sock *websocket.Conn, resource string) *Conn {
	tr := l.tr
	tr.Resource = resource
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
	// 读循环阻塞在 ReadMessage 上，先关套接字再等它退出
	c.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-c.proc.Closing()
		sock.Close()
	}()
	l.proc.AddChild(c.proc)

	l.driver.reg.RegisterConnection(l.tenant, tr, c)
	c.proc.Go(c.readLoop)

	logger.Debug("WebSocket 连接已建立", "proto", tr.Proto.String(),
		"tenant", l.tenant, "remote", sock.RemoteAddr().String())
	return c
}

// Connect 向对端发起 WebSocket 连接
func (l *Listener) Connect(ctx context.Context, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (interfaces.Connection, error) {
	scheme := "ws"
	if l.driver.proto == types.ProtocolWSS {
		scheme = "wss"
	}

	resource := opts.Resource
	if resource == "" {
		resource = defaultResource
	}
	url := fmt.Sprintf("%s://%s%s", scheme, netip.AddrPortFrom(ip.Unmap(), port).String(), resource)

	dialer := websocket.Dialer{
		Subprotocols: []string{"sip"},
	}
	if l.driver.proto == types.ProtocolWSS {
		conf := opts.TLSConfig
		if conf == nil {
			conf = l.tlsConf
		}
		dialer.TLSClientConfig = conf
	}

	sock, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s connect %s: %w", l.driver.proto, url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return l.adoptConn(sock, resource), nil
}

// ============================================================================
//                              Conn
// ============================================================================

// Conn 一条 WebSocket 连接
//
// WebSocket 帧保留消息边界，一条消息对应一个帧。
type Conn struct {
	tr      types.Transport
	sock    *websocket.Conn
	handler interfaces.MessageHandler
	proc    goprocess.Process
	closed  atomic.Bool

	// gorilla 不允许并发写
	writeMu sync.Mutex
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

// Send 投递一条消息（单个 WebSocket 帧）
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return types.ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("ws send: %w", err)
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

// readLoop 入站消息循环
func (c *Conn) readLoop(proc goprocess.Process) {
	for {
		_, payload, err := c.sock.ReadMessage()
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				go c.proc.Close()
			}
			return
		}
		if c.handler != nil {
			c.handler(c.tr, payload)
		}
	}
}
