// Package interfaces 定义传输层各组件之间的契约
//
// 协议驱动按统一的 {Listen, Connect} 能力契约接入传输层；
// 上层通过 RenderFunc 把消息渲染推迟到传输选定之后。
package interfaces
