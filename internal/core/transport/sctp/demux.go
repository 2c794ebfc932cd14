package sctp

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// 单个对端待处理数据报的上限，超出则丢弃
const peerQueueDepth = 128

// peerConn 把共享 UDP 套接字按对端地址切分出的 net.Conn 视图
//
// 监听器的读循环按来源地址把数据报投进 readCh，pion 协议栈
// 从这里读；写直接落到共享套接字。关联关闭时 pion 会关闭
// 底层 net.Conn，借此把对端从分流表中摘除。
type peerConn struct {
	sock   *net.UDPConn
	peer   netip.AddrPort
	remove func(netip.AddrPort)

	readCh chan []byte

	mu       sync.Mutex
	deadline time.Time
	closed   chan struct{}
	once     sync.Once
}

var _ net.Conn = (*peerConn)(nil)

func newPeerConn(sock *net.UDPConn, peer netip.AddrPort, remove func(netip.AddrPort)) *peerConn {
	return &peerConn{
		sock:   sock,
		peer:   peer,
		remove: remove,
		readCh: make(chan []byte, peerQueueDepth),
		closed: make(chan struct{}),
	}
}

// deliver 投递一条入站数据报；队列满时丢弃
//
// SCTP 自身负责重传，丢弃拥塞的数据报是安全的。
func (p *peerConn) deliver(payload []byte) bool {
	select {
	case p.readCh <- payload:
		return true
	case <-p.closed:
		return false
	default:
		return false
	}
}

// Read 读取下一条数据报
func (p *peerConn) Read(b []byte) (int, error) {
	var timeout <-chan time.Time
	p.mu.Lock()
	if !p.deadline.IsZero() {
		left := time.Until(p.deadline)
		p.mu.Unlock()
		if left <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(left)
		defer t.Stop()
		timeout = t.C
	} else {
		p.mu.Unlock()
	}

	select {
	case payload := <-p.readCh:
		n := copy(b, payload)
		return n, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	case <-p.closed:
		return 0, net.ErrClosed
	}
}

// Write 通过共享套接字向对端发送
func (p *peerConn) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, net.ErrClosed
	default:
	}
	return p.sock.WriteToUDPAddrPort(b, p.peer)
}

// Close 关闭视图并把对端从分流表摘除
//
// 不关闭共享套接字，套接字归监听器所有。
func (p *peerConn) Close() error {
	p.once.Do(func() {
		close(p.closed)
		p.remove(p.peer)
	})
	return nil
}

func (p *peerConn) LocalAddr() net.Addr {
	return p.sock.LocalAddr()
}

func (p *peerConn) RemoteAddr() net.Addr {
	return net.UDPAddrFromAddrPort(p.peer)
}

func (p *peerConn) SetDeadline(t time.Time) error {
	return p.SetReadDeadline(t)
}

func (p *peerConn) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

// SetWriteDeadline 写路径无缓冲，期限无意义
func (p *peerConn) SetWriteDeadline(time.Time) error {
	return nil
}
