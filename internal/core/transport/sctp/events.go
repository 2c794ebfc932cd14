package sctp

import (
	"net/netip"

	"github.com/pion/sctp"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
)

// 监听器事件：带标签的变体类型，经单消费者循环串行处理。
// 严格的逐监听器串行化使 pending 表与注册表的交互天然无竞争。
type event interface {
	event()
}

// evConnectRequest 建立器发来的连接请求
//
// 循环记录 pending 条目并异步发起关联；此时不回复调用方，
// 确认由稍后的 evAssocUp / evAssocFail 事件驱动。
type evConnectRequest struct {
	peer  netip.AddrPort
	opts  interfaces.ConnectOptions
	reply chan connectResult
}

func (evConnectRequest) event() {}

// evConnectTimeout 调用方等待超时
//
// 清除残留的 pending 条目，避免按对端地址键泄漏状态。
type evConnectTimeout struct {
	peer netip.AddrPort
}

func (evConnectTimeout) event() {}

// evAssocUp 关联建立完成（入站或出站）
type evAssocUp struct {
	peer    netip.AddrPort
	assoc   *sctp.Association
	stream  *sctp.Stream
	inbound bool
}

func (evAssocUp) event() {}

// evAssocFail 关联握手失败（出站发起或入站接受）
type evAssocFail struct {
	peer netip.AddrPort
	err  error
}

func (evAssocFail) event() {}

// evAssocDown 关联断开
type evAssocDown struct {
	correlationID uint64
}

func (evAssocDown) event() {}

// evData 关联流上到达的入站数据
type evData struct {
	peer    netip.AddrPort
	payload []byte
}

func (evData) event() {}

// evPeerChange 对端地址变化
//
// 多宿路径迁移不受支持；事件被显式丢弃而不是静默丢数据。
type evPeerChange struct {
	peer netip.AddrPort
}

func (evPeerChange) event() {}

// connectResult 连接请求的回复
type connectResult struct {
	conn interfaces.Connection
	err  error
}
