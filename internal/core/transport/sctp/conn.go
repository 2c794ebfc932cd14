package sctp

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/jbenet/goprocess"
	"github.com/pion/sctp"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// Conn 一条 SCTP 关联上的连接 actor
//
// 持有关联与 0 号流。出站消息直接写流，入站消息化作数据事件
// 回流到监听器循环统一分发；流关闭化作断开事件。
type Conn struct {
	listener *Listener
	tr       types.Transport
	peer     netip.AddrPort
	corrID   uint64
	assoc    *sctp.Association
	stream   *sctp.Stream
	maxSize  int
	proc     goprocess.Process
	closed   atomic.Bool
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

// Send 投递一条消息（单个 SCTP 用户消息，边界保留）
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return types.ErrConnectionClosed
	}
	if c.maxSize > 0 && len(payload) > c.maxSize {
		return fmt.Errorf("sctp send: message size %d exceeds %d", len(payload), c.maxSize)
	}

	if _, err := c.stream.Write(payload); err != nil {
		return fmt.Errorf("sctp send: %w", err)
	}
	return nil
}

// Close 停止连接并关闭关联
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.proc.Close()
}

// readLoop 入站消息循环
func (c *Conn) readLoop(proc goprocess.Process) {
	buf := make([]byte, bufferSize)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			c.listener.post(evData{peer: c.peer, payload: payload})
		}
		if err != nil {
			select {
			case <-proc.Closing():
			default:
				c.listener.post(evAssocDown{correlationID: c.corrID})
			}
			return
		}
	}
}
