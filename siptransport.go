package siptransport

import (
	"github.com/dep2p/go-siptransport/internal/core/transport"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "siptransport " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

// 核心类型别名，避免使用方直接 import 内部包
type (
	// Tenant 租户标识
	Tenant = types.Tenant

	// Protocol 传输协议
	Protocol = types.Protocol

	// Family 地址族
	Family = types.Family

	// Transport 传输记录
	Transport = types.Transport

	// ConnKey 连接索引键
	ConnKey = types.ConnKey

	// Candidate 发送候选
	Candidate = types.Candidate

	// DestCandidate 符号目标候选
	DestCandidate = types.DestCandidate

	// AddrCandidate 具体地址候选
	AddrCandidate = types.AddrCandidate

	// CurrentCandidate 连接复用候选
	CurrentCandidate = types.CurrentCandidate

	// FlowCandidate 强制流候选
	FlowCandidate = types.FlowCandidate

	// RenderFunc 按传输渲染消息的回调
	RenderFunc = interfaces.RenderFunc

	// MessageHandler 入站消息处理器
	MessageHandler = interfaces.MessageHandler

	// Connection 已建立的连接
	Connection = interfaces.Connection

	// Listener 监听端点
	Listener = interfaces.Listener

	// Resolver 目标解析器
	Resolver = interfaces.Resolver

	// ListenOptions 监听选项
	ListenOptions = interfaces.ListenOptions

	// ConnectOptions 连接选项
	ConnectOptions = interfaces.ConnectOptions

	// SendOptions 发送选项
	SendOptions = interfaces.SendOptions

	// HostOptions 通告主机解析选项
	HostOptions = transport.HostOptions

	// RouteOptions Route URI 构造选项
	RouteOptions = transport.RouteOptions
)

// 协议常量别名
const (
	ProtocolUnknown = types.ProtocolUnknown

	ProtocolUDP  = types.ProtocolUDP
	ProtocolTCP  = types.ProtocolTCP
	ProtocolTLS  = types.ProtocolTLS
	ProtocolSCTP = types.ProtocolSCTP
	ProtocolWS   = types.ProtocolWS
	ProtocolWSS  = types.ProtocolWSS
)

// 常用错误别名
var (
	// ErrSendFailed 候选列表耗尽，发送失败
	ErrSendFailed = transport.ErrSendFailed

	// ErrConnectionBusy 软锁重试耗尽，连接建立中
	ErrConnectionBusy = transport.ErrConnectionBusy

	// ErrNoListeningTransport 没有可用的监听端点发起连接
	ErrNoListeningTransport = transport.ErrNoListeningTransport

	// ErrUnsupportedProtocol 协议未装载驱动
	ErrUnsupportedProtocol = transport.ErrUnsupportedProtocol

	// ErrMessageTooLarge 消息超过数据报上限
	ErrMessageTooLarge = types.ErrMessageTooLarge
)

// ParseProtocol 从字符串解析协议（大小写不敏感）
var ParseProtocol = types.ParseProtocol

// MakeRoute 构造 Route URI
//
// 转发到 transport.MakeRoute，便于使用方免于 import 内部包。
func MakeRoute(scheme string, proto Protocol, host string, port uint16, user string, opts RouteOptions) string {
	return transport.MakeRoute(scheme, proto, host, port, user, opts)
}
