package types

import "strings"

// ============================================================================
//                              Protocol - 传输协议
// ============================================================================

// Protocol 传输协议类型
type Protocol int

const (
	// ProtocolUnknown 未知协议
	ProtocolUnknown Protocol = iota
	// ProtocolUDP UDP 数据报传输
	ProtocolUDP
	// ProtocolTCP TCP 字节流传输
	ProtocolTCP
	// ProtocolTLS TLS 加密字节流传输
	ProtocolTLS
	// ProtocolSCTP SCTP 关联传输（面向连接，消息边界保留）
	ProtocolSCTP
	// ProtocolWS WebSocket 传输
	ProtocolWS
	// ProtocolWSS WebSocket over TLS 传输
	ProtocolWSS
)

// String 返回协议的字符串表示
func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolTLS:
		return "tls"
	case ProtocolSCTP:
		return "sctp"
	case ProtocolWS:
		return "ws"
	case ProtocolWSS:
		return "wss"
	default:
		return "unknown"
	}
}

// ParseProtocol 从字符串解析协议（大小写不敏感）
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(s) {
	case "udp":
		return ProtocolUDP
	case "tcp":
		return ProtocolTCP
	case "tls":
		return ProtocolTLS
	case "sctp":
		return ProtocolSCTP
	case "ws":
		return ProtocolWS
	case "wss":
		return ProtocolWSS
	default:
		return ProtocolUnknown
	}
}

// DefaultPort 返回协议的默认端口
//
// 未知协议返回 0，后续连接会因此失败。
func (p Protocol) DefaultPort() uint16 {
	switch p {
	case ProtocolUDP, ProtocolTCP, ProtocolSCTP:
		return 5060
	case ProtocolTLS:
		return 5061
	case ProtocolWS:
		return 80
	case ProtocolWSS:
		return 443
	default:
		return 0
	}
}

// ConnectionOriented 返回协议是否面向连接
//
// 面向连接的协议在建立连接时需要通过软锁去重并发拨号；
// UDP 的「连接」只是轻量的本地绑定，不需要握手。
func (p Protocol) ConnectionOriented() bool {
	return p != ProtocolUDP && p != ProtocolUnknown
}

// Reliable 返回协议是否可靠传输
func (p Protocol) Reliable() bool {
	return p != ProtocolUDP && p != ProtocolUnknown
}

// Streamed 返回协议是否为字节流（无消息边界）
func (p Protocol) Streamed() bool {
	return p == ProtocolTCP || p == ProtocolTLS
}

// Secure 返回协议是否加密
func (p Protocol) Secure() bool {
	return p == ProtocolTLS || p == ProtocolWSS
}
