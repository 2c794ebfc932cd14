package types

import "errors"

// 跨包共享的传输错误
//
// 这些错误属于驱动与传输层之间的契约，因此定义在最底层包中。
var (
	// ErrMessageTooLarge 消息超出数据报传输上限
	//
	// 仅数据报传输（UDP）会返回；发送编排器据此把同一候选
	// 升级为 TCP 重试，不是终态失败。
	ErrMessageTooLarge = errors.New("message too large for transport")

	// ErrMaxConnections 准入控制拒绝了新的关联 / 连接
	ErrMaxConnections = errors.New("max connections reached")

	// ErrConnectionClosed 连接已停止
	ErrConnectionClosed = errors.New("connection closed")
)
