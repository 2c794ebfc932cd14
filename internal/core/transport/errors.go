package transport

import "errors"

var (
	// ErrNoListeningTransport 请求的协议 / 地址族没有本地监听器
	ErrNoListeningTransport = errors.New("no listening transport")

	// ErrConnectionBusy 软锁重试预算耗尽
	ErrConnectionBusy = errors.New("connection busy")

	// ErrLocking 锁原语自身失败
	ErrLocking = errors.New("locking error")

	// ErrSendFailed 候选列表耗尽，整体发送失败
	//
	// 设计上不向顶层传播最后一个候选的具体错误；
	// 需要诊断的调用方依赖日志。
	ErrSendFailed = errors.New("send failed")

	// ErrUnsupportedProtocol 没有对应协议的驱动
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrClosed 传输层已关闭
	ErrClosed = errors.New("transport layer closed")
)
