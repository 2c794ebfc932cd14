// Package sctp 提供基于用户态协议栈的 SCTP 传输驱动
//
// 承载方式是 SCTP over UDP：监听器拥有一个共享 UDP 套接字，
// 按对端地址把数据报分流到各自的 net.Conn 视图，pion/sctp
// 在视图之上跑完整的四路握手与可靠传输。
//
// 监听器是单消费者事件循环：连接请求、关联建立 / 失败 / 断开、
// 入站数据都化作事件排队串行处理，关联表与 pending 表只被
// 循环这一个 goroutine 触碰。每个关联建立后由独立的连接 actor
// 持有流并处理收发。
package sctp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/jbenet/goprocess"
	"github.com/pion/sctp"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("transport/sctp")

// 接收缓冲区大小
const bufferSize = 65535

// 事件队列深度
const eventQueueDepth = 64

// Driver SCTP 协议驱动
type Driver struct {
	cfg *config.Config
	reg *registry.Registry
}

var _ interfaces.Driver = (*Driver)(nil)

// NewDriver 创建 SCTP 驱动
func NewDriver(cfg *config.Config, reg *registry.Registry) *Driver {
	return &Driver{cfg: cfg, reg: reg}
}

// Proto 返回驱动服务的协议
func (d *Driver) Proto() types.Protocol {
	return types.ProtocolSCTP
}

// Listen 绑定一个 SCTP 监听器
func (d *Driver) Listen(_ context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	network := "udp4"
	if types.FamilyOf(ip) == types.FamilyIPv6 {
		network = "udp6"
	}

	sock, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, port)))
	if err != nil {
		return nil, fmt.Errorf("sctp listen %s:%d: %w", ip, port, err)
	}

	bound := sock.LocalAddr().(*net.UDPAddr).AddrPort()
	tr := types.Transport{
		Proto:      types.ProtocolSCTP,
		LocalIP:    ip,
		LocalPort:  bound.Port(),
		ListenIP:   ip,
		ListenPort: bound.Port(),
	}

	maxAssocs := opts.MaxConnections
	if maxAssocs <= 0 {
		maxAssocs = d.cfg.SCTP.MaxAssociations
	}

	l := &Listener{
		driver:    d,
		tenant:    tenant,
		tr:        tr,
		sock:      sock,
		handler:   opts.Handler,
		maxAssocs: maxAssocs,
		events:    make(chan event, eventQueueDepth),
		pending:   make(map[netip.AddrPort]chan connectResult),
		conns:     make(map[netip.AddrPort]*Conn),
		byCorr:    make(map[uint64]*Conn),
		demux:     make(map[netip.AddrPort]*peerConn),
	}
	// 收尾要等读循环退出，而读循环阻塞在套接字上；
	// 关闭信号一出现就先关套接字解除阻塞
	l.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-l.proc.Closing()
		sock.Close()
	}()

	d.reg.RegisterListener(tenant, tr, l)
	l.proc.Go(l.loop)
	l.proc.Go(l.readLoop)

	logger.Info("SCTP 监听器已绑定", "tenant", tenant, "addr", bound.String())
	return l, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener SCTP 监听器
//
// pending / conns / byCorr 只在事件循环内访问，无锁。
// demux 表另由套接字读循环和 peerConn.Close 并发触碰，单独上锁。
type Listener struct {
	driver    *Driver
	tenant    types.Tenant
	tr        types.Transport
	sock      *net.UDPConn
	handler   interfaces.MessageHandler
	maxAssocs int
	proc      goprocess.Process

	events   chan event
	pending  map[netip.AddrPort]chan connectResult
	conns    map[netip.AddrPort]*Conn
	byCorr   map[uint64]*Conn
	nextCorr uint64

	demuxMu sync.Mutex
	demux   map[netip.AddrPort]*peerConn
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

// Close 停止监听器及其全部关联
func (l *Listener) Close() error {
	return l.proc.Close()
}

// Connect 向对端发起 SCTP 关联
//
// 请求化作事件进入循环，调用方阻塞等待确认。同一对端的
// 关联已存在时直接复用，不再发起握手。
func (l *Listener) Connect(ctx context.Context, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (interfaces.Connection, error) {
	peer := netip.AddrPortFrom(ip.Unmap(), port)
	reply := make(chan connectResult, 1)

	select {
	case l.events <- evConnectRequest{peer: peer, opts: opts, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.proc.Closing():
		return nil, types.ErrConnectionClosed
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		// 清除 pending 条目；迟到的关联照常作为入站成果发布
		l.post(evConnectTimeout{peer: peer})
		return nil, ctx.Err()
	case <-l.proc.Closing():
		return nil, types.ErrConnectionClosed
	}
}

// post 把事件投入循环；监听器关闭时丢弃
func (l *Listener) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.proc.Closing():
	}
}

// loop 单消费者事件循环
func (l *Listener) loop(proc goprocess.Process) {
	for {
		select {
		case <-proc.Closing():
			return
		case ev := <-l.events:
			switch ev := ev.(type) {
			case evConnectRequest:
				l.handleConnectRequest(ev)
			case evConnectTimeout:
				delete(l.pending, ev.peer)
			case evAssocUp:
				l.handleAssocUp(ev)
			case evAssocFail:
				l.handleAssocFail(ev)
			case evAssocDown:
				l.handleAssocDown(ev)
			case evData:
				l.handleData(ev)
			case evPeerChange:
				logger.Warn("忽略对端地址变化事件", "peer", ev.peer.String())
			}
		}
	}
}

// handleConnectRequest 处理出站连接请求
func (l *Listener) handleConnectRequest(ev evConnectRequest) {
	if c, ok := l.conns[ev.peer]; ok {
		ev.reply <- connectResult{conn: c}
		return
	}
	if _, ok := l.pending[ev.peer]; ok {
		ev.reply <- connectResult{err: fmt.Errorf("sctp connect %s: association already pending", ev.peer)}
		return
	}
	if l.maxAssocs > 0 && len(l.conns) >= l.maxAssocs {
		ev.reply <- connectResult{err: types.ErrMaxConnections}
		return
	}

	pc, created := l.demuxEnsure(ev.peer)
	if !created {
		// 入站握手已在进行，等同一个 assoc-up 事件揭晓结果
		l.pending[ev.peer] = ev.reply
		return
	}

	l.pending[ev.peer] = ev.reply
	go l.initiate(pc, ev.peer)
}

// handleAssocUp 处理关联建立
//
// 同一对端重复关联时首个获胜：后到的关联被关闭，等待中的
// 调用方拿到既有连接。
func (l *Listener) handleAssocUp(ev evAssocUp) {
	reply := l.pending[ev.peer]
	delete(l.pending, ev.peer)

	if existing, ok := l.conns[ev.peer]; ok {
		logger.Warn("同一对端出现重复关联，保留先建者",
			"tenant", l.tenant, "peer", ev.peer.String(), "inbound", ev.inbound)
		go ev.assoc.Close()
		if reply != nil {
			reply <- connectResult{conn: existing}
		}
		return
	}

	if l.maxAssocs > 0 && len(l.conns) >= l.maxAssocs {
		logger.Warn("关联数达到上限，拒绝新关联",
			"tenant", l.tenant, "peer", ev.peer.String(), "limit", l.maxAssocs)
		go ev.assoc.Close()
		if reply != nil {
			reply <- connectResult{err: types.ErrMaxConnections}
		}
		return
	}

	l.nextCorr++
	corr := l.nextCorr

	tr := l.tr
	tr.RemoteIP = ev.peer.Addr().Unmap()
	tr.RemotePort = ev.peer.Port()
	tr.CorrelationID = corr

	c := &Conn{
		listener: l,
		tr:       tr,
		peer:     ev.peer,
		corrID:   corr,
		assoc:    ev.assoc,
		stream:   ev.stream,
		maxSize:  int(l.driver.cfg.SCTP.MaxMessageSize),
	}
	// 读循环阻塞在流上，先关流与关联再等它退出
	c.proc = goprocess.WithParent(goprocess.Background())
	go func() {
		<-c.proc.Closing()
		ev.stream.Close()
		ev.assoc.Close()
	}()
	l.proc.AddChild(c.proc)

	l.conns[ev.peer] = c
	l.byCorr[corr] = c
	l.driver.reg.RegisterConnection(l.tenant, tr, c)
	c.proc.Go(c.readLoop)

	logger.Info("SCTP 关联已建立", "tenant", l.tenant,
		"peer", ev.peer.String(), "correlation", corr, "inbound", ev.inbound)

	if reply != nil {
		reply <- connectResult{conn: c}
	}
}

// handleAssocFail 处理关联握手失败（出站发起或入站接受）
//
// 搭车等待入站握手的出站请求也经由这里及时失败，而不是
// 拖到拨号超时。
func (l *Listener) handleAssocFail(ev evAssocFail) {
	if reply, ok := l.pending[ev.peer]; ok {
		delete(l.pending, ev.peer)
		reply <- connectResult{err: fmt.Errorf("sctp connect %s: %w", ev.peer, ev.err)}
		return
	}
	logger.Debug("关联握手失败且无人等待", "peer", ev.peer.String(), "error", ev.err)
}

// handleAssocDown 处理关联断开
func (l *Listener) handleAssocDown(ev evAssocDown) {
	c, ok := l.byCorr[ev.correlationID]
	if !ok {
		return
	}
	delete(l.byCorr, ev.correlationID)
	delete(l.conns, c.peer)
	go c.Close()

	logger.Info("SCTP 关联已断开", "tenant", l.tenant,
		"peer", c.peer.String(), "correlation", ev.correlationID)
}

// handleData 分发入站数据
func (l *Listener) handleData(ev evData) {
	c, ok := l.conns[ev.peer]
	if !ok {
		logger.Debug("丢弃无关联的入站数据", "peer", ev.peer.String(), "bytes", len(ev.payload))
		return
	}
	if l.handler != nil {
		l.handler(c.tr, ev.payload)
	}
}

// ============================================================================
//                              握手与分流
// ============================================================================

// sctpConfig 组装协议栈配置
func (l *Listener) sctpConfig(pc *peerConn, name string) sctp.Config {
	return sctp.Config{
		NetConn:              pc,
		MaxReceiveBufferSize: l.driver.cfg.SCTP.MaxReceiveBufferSize,
		MaxMessageSize:       l.driver.cfg.SCTP.MaxMessageSize,
		LoggerFactory:        loggerFactory{},
		Name:                 name,
	}
}

// initiate 发起出站关联（握手阻塞，循环之外执行）
func (l *Listener) initiate(pc *peerConn, peer netip.AddrPort) {
	assoc, err := sctp.Client(l.sctpConfig(pc, "dial-"+peer.String()))
	if err != nil {
		pc.Close()
		l.post(evAssocFail{peer: peer, err: err})
		return
	}

	stream, err := assoc.OpenStream(0, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		assoc.Close()
		l.post(evAssocFail{peer: peer, err: fmt.Errorf("open stream: %w", err)})
		return
	}

	l.post(evAssocUp{peer: peer, assoc: assoc, stream: stream, inbound: false})
}

// accept 接受入站关联（握手阻塞，循环之外执行）
func (l *Listener) accept(pc *peerConn, peer netip.AddrPort) {
	assoc, err := sctp.Server(l.sctpConfig(pc, "accept-"+peer.String()))
	if err != nil {
		pc.Close()
		logger.Debug("入站关联握手失败", "peer", peer.String(), "error", err)
		l.post(evAssocFail{peer: peer, err: err})
		return
	}

	stream, err := assoc.AcceptStream()
	if err != nil {
		assoc.Close()
		logger.Debug("入站关联未开流", "peer", peer.String(), "error", err)
		l.post(evAssocFail{peer: peer, err: fmt.Errorf("accept stream: %w", err)})
		return
	}
	stream.SetDefaultPayloadType(sctp.PayloadTypeWebRTCBinary)

	l.post(evAssocUp{peer: peer, assoc: assoc, stream: stream, inbound: true})
}

// readLoop 共享套接字读循环：按对端地址分流
//
// 未知对端的首个数据报触发入站握手。
func (l *Listener) readLoop(proc goprocess.Process) {
	buf := make([]byte, bufferSize)
	for {
		n, from, err := l.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				logger.Debug("SCTP 套接字读取失败，监听器退出", "error", err)
				go l.proc.Close()
			}
			return
		}

		peer := netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		payload := make([]byte, n)
		copy(payload, buf[:n])

		pc, created := l.demuxEnsure(peer)
		if !pc.deliver(payload) {
			logger.Debug("对端队列拥塞，丢弃数据报", "peer", peer.String())
		}
		if created {
			go l.accept(pc, peer)
		}
	}
}

// demuxEnsure 返回对端的分流视图，必要时创建
func (l *Listener) demuxEnsure(peer netip.AddrPort) (*peerConn, bool) {
	l.demuxMu.Lock()
	defer l.demuxMu.Unlock()

	if pc, ok := l.demux[peer]; ok {
		return pc, false
	}
	pc := newPeerConn(l.sock, peer, l.demuxRemove)
	l.demux[peer] = pc
	return pc, true
}

// demuxRemove 把对端从分流表摘除
func (l *Listener) demuxRemove(peer netip.AddrPort) {
	l.demuxMu.Lock()
	delete(l.demux, peer)
	l.demuxMu.Unlock()
}
