package types

import "net/netip"

// ============================================================================
//                              Candidate - 发送候选项
// ============================================================================

// Candidate 发送候选项
//
// 发送编排器按顺序逐个尝试的目标描述，共四种：
//   - DestCandidate    符号目标，需经解析器展开
//   - AddrCandidate    具体 (协议, IP, 端口, 资源) 四元组
//   - CurrentCandidate 按连接键复用已有连接
//   - FlowCandidate    强制复用指定的连接句柄
type Candidate interface {
	candidate()
}

// DestCandidate 符号目标候选项
//
// URI 形式的目标，由外部解析器展开为零或多个具体候选项，
// 原地拼接进候选序列。
type DestCandidate struct {
	// URI 目标 URI（语法解析属于外部协作者）
	URI string
}

func (DestCandidate) candidate() {}

// AddrCandidate 具体地址候选项
type AddrCandidate struct {
	Proto    Protocol
	IP       netip.Addr
	Port     uint16
	Resource string

	// Origin 候选项来源的符号目标（仅用于日志诊断）
	Origin string
}

func (AddrCandidate) candidate() {}

// Key 返回候选项对应的连接复用键
func (c AddrCandidate) Key() ConnKey {
	return ConnKey{Proto: c.Proto, IP: c.IP.Unmap(), Port: c.Port, Resource: c.Resource}
}

// CurrentCandidate 复用当前连接候选项
//
// 携带连接键，按键精确查找已有连接；查不到或投递失败则
// 落到下一个候选项。
type CurrentCandidate struct {
	Key ConnKey
}

func (CurrentCandidate) candidate() {}

// FlowCandidate 强制流复用候选项
//
// 无视注册表状态，直接在给定的连接句柄上渲染并发送。
type FlowCandidate struct {
	Conn      Flow
	Transport Transport
}

func (FlowCandidate) candidate() {}

// Flow 可直接投递的连接句柄
//
// 最小发送契约，由传输层的连接实现；放在 types 中避免
// 候选项类型反向依赖接口包。
type Flow interface {
	// Send 投递一条已渲染的消息
	Send(payload []byte) error
}
