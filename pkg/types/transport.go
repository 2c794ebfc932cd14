package types

import (
	"fmt"
	"net/netip"
)

// Tenant 租户标识
//
// 同一进程内可以承载多个上层服务实例，各自的监听器与连接
// 在注册表中按租户隔离。
type Tenant string

// Family 地址族
type Family int

const (
	// FamilyUnknown 未知地址族
	FamilyUnknown Family = iota
	// FamilyIPv4 IPv4
	FamilyIPv4
	// FamilyIPv6 IPv6
	FamilyIPv6
)

// String 返回地址族的字符串表示
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// FamilyOf 返回地址所属的地址族
func FamilyOf(ip netip.Addr) Family {
	if !ip.IsValid() {
		return FamilyUnknown
	}
	if ip.Unmap().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Wildcard 返回指定地址族的通配地址（绑定所有接口）
func Wildcard(f Family) netip.Addr {
	if f == FamilyIPv6 {
		return netip.IPv6Unspecified()
	}
	return netip.AddrFrom4([4]byte{})
}

// IsWildcard 返回地址是否为任一地址族的通配地址
func IsWildcard(ip netip.Addr) bool {
	return ip.IsValid() && ip.Unmap().IsUnspecified()
}

// ============================================================================
//                              Transport - 传输记录
// ============================================================================

// Transport 传输记录
//
// 描述一个传输端点，发布后不可变。一条记录要么是监听器
// （Remote 未指定 / 端口为 0），要么是一条具体连接（Remote 完整）。
// 同一条记录内 Listen/Local/Remote 的地址族必须一致。
type Transport struct {
	// Proto 传输协议
	Proto Protocol `json:"proto"`

	// LocalIP / LocalPort 套接字实际绑定的本地端点；
	// 对监听器而言等于 ListenIP/ListenPort
	LocalIP   netip.Addr `json:"local_ip"`
	LocalPort uint16     `json:"local_port"`

	// ListenIP / ListenPort 监听器绑定的地址（可以是通配地址）
	ListenIP   netip.Addr `json:"listen_ip"`
	ListenPort uint16     `json:"listen_port"`

	// RemoteIP / RemotePort 对端端点；纯监听器记录为零值
	RemoteIP   netip.Addr `json:"remote_ip"`
	RemotePort uint16     `json:"remote_port"`

	// Resource 不透明的路由判别符（如 WebSocket 路径）；
	// 面向连接的字节传输为空
	Resource string `json:"resource,omitempty"`

	// CorrelationID 协议相关的关联句柄（如 SCTP 关联号）；
	// 无连接/字节流传输为 0
	CorrelationID uint64 `json:"correlation_id,omitempty"`
}

// IsListener 返回记录是否为纯监听器（对端未指定）
func (t Transport) IsListener() bool {
	return !t.RemoteIP.IsValid() || t.RemotePort == 0
}

// Family 返回记录的地址族（以监听地址为准）
func (t Transport) Family() Family {
	return FamilyOf(t.ListenIP)
}

// ConnKey 返回连接的复用键
func (t Transport) ConnKey() ConnKey {
	return ConnKey{
		Proto:    t.Proto,
		IP:       t.RemoteIP.Unmap(),
		Port:     t.RemotePort,
		Resource: t.Resource,
	}
}

// String 返回便于日志输出的记录描述
func (t Transport) String() string {
	if t.IsListener() {
		return fmt.Sprintf("%s listener %s:%d", t.Proto, t.ListenIP, t.ListenPort)
	}
	return fmt.Sprintf("%s %s:%d->%s:%d", t.Proto, t.LocalIP, t.LocalPort, t.RemoteIP, t.RemotePort)
}

// ConnKey 连接复用键
//
// 注册表「已连接」索引的键；同一键下可能短暂存在多条连接。
type ConnKey struct {
	Proto    Protocol
	IP       netip.Addr
	Port     uint16
	Resource string
}

// String 返回连接键的字符串表示
func (k ConnKey) String() string {
	return fmt.Sprintf("%s/%s:%d/%s", k.Proto, k.IP, k.Port, k.Resource)
}
