package interfaces

import (
	"context"
	"crypto/tls"
	"net/netip"
	"time"

	"github.com/jbenet/goprocess"

	"github.com/dep2p/go-siptransport/pkg/types"
)

// RenderFunc 消息渲染函数
//
// 由上层调用方提供：给定最终选定的传输记录，返回要投递的
// 序列化消息。相对所选 Transport 必须是纯函数，回退发生时
// 可能被多次调用。
type RenderFunc func(tr types.Transport) ([]byte, error)

// MessageHandler 入站消息处理器
//
// 监听器 / 连接把收到的数据连同来源传输记录一起向上递交。
type MessageHandler func(tr types.Transport, payload []byte)

// Owner 拥有者句柄
//
// 注册表条目的拥有者。注册表把注销挂在拥有者进程的
// teardown 上，保证条目随拥有者终止自动清理。
type Owner interface {
	// Process 返回拥有者的生命周期进程
	Process() goprocess.Process
}

// Connection 一条已建立的连接
//
// 连接是独立调度的长生命周期单元；投递语义归它所有。
type Connection interface {
	types.Flow
	Owner

	// Transport 返回连接的传输记录
	Transport() types.Transport

	// Close 停止连接并释放资源
	Close() error
}

// Listener 一个已绑定的监听器
//
// 每个监听端点一个实例；负责接受入站连接，并应建立器的
// 请求发起出站连接。
type Listener interface {
	Owner

	// Transport 返回监听器的传输记录（含实际绑定端口）
	Transport() types.Transport

	// Connect 向指定对端发起连接
	//
	// 调用方（连接建立器）已经通过软锁串行化了对同一对端的
	// 并发请求。确认在 ctx 限定的时间内异步到达。
	Connect(ctx context.Context, ip netip.Addr, port uint16, opts ConnectOptions) (Connection, error)

	// Close 停止监听器；其注册表条目随进程终止自动清理
	Close() error
}

// Driver 协议驱动
//
// 每个协议一个实现，满足统一的 {Listen, Connect} 能力契约
// （Connect 经由 Listener 暴露）。
type Driver interface {
	// Proto 返回驱动服务的协议
	Proto() types.Protocol

	// Listen 为租户在 ip:port 绑定一个监听器
	Listen(ctx context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts ListenOptions) (Listener, error)
}

// Resolver 目标解析器（外部协作者）
//
// 把 URI 形式的目标展开为有序的具体候选地址列表。
// DNS 解析算法不在本层定义。
type Resolver interface {
	Resolve(ctx context.Context, tenant types.Tenant, uri string) ([]types.AddrCandidate, error)
}

// ============================================================================
//                              选项
// ============================================================================

// ListenOptions 监听选项
type ListenOptions struct {
	// Handler 入站消息处理器
	Handler MessageHandler

	// Resource 监听器的路由判别符（WebSocket 路径）
	Resource string

	// TLSConfig TLS/WSS 监听所需的证书配置
	TLSConfig *tls.Config

	// MaxConnections 准入控制上限（0 表示使用配置默认值）
	MaxConnections int
}

// ConnectOptions 连接选项
type ConnectOptions struct {
	// Timeout 拨号确认超时（0 表示使用配置默认值）
	Timeout time.Duration

	// Resource 目标资源（WebSocket 路径）
	Resource string

	// TLSConfig 出站 TLS/WSS 配置
	TLSConfig *tls.Config
}

// SendOptions 发送选项
type SendOptions struct {
	// Origin 候选项来源的符号目标（仅用于日志诊断）
	Origin string

	// Connect 连接建立选项，建立新连接时透传
	Connect ConnectOptions
}
