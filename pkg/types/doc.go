// Package types 定义 SIP 信令传输层的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 siptransport 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - protocol.go  - Protocol 枚举、默认端口、可靠性/流式属性
//   - transport.go - Transport 传输记录（监听器 / 连接）、连接键
//   - candidate.go - 发送候选项（符号目标 / 具体地址 / 复用标记）
package types
