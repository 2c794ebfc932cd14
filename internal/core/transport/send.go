package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// Send 发送编排器
//
// 严格从左到右逐个尝试候选项，首个成功即短路返回渲染后的
// 消息。所有单候选错误都被吸收并转为「尝试下一个」；只有
// 整个候选列表耗尽才向调用方报告失败（不区分原因）。
//
// 各候选类别的处理：
//   - 符号目标：经解析器展开，原地拼接，继续
//   - 复用当前：按键精确查找，命中则渲染投递；失败落到下一项
//   - 强制流：无视注册表，直接在给定句柄上渲染投递
//   - 具体地址端口为 0：改写为协议默认端口后重试
//   - 具体地址：查找已有连接，否则经建立器新建；数据报超限
//     时把同一地址改为 TCP 紧随其后重试
//   - 无法识别的候选：记日志并跳过
func (l *Layer) Send(ctx context.Context, tenant types.Tenant, candidates []types.Candidate, render interfaces.RenderFunc, opts interfaces.SendOptions) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	// 发送事务 ID，仅用于日志关联
	sendID := uuid.New().String()[:8]

	queue := make([]types.Candidate, len(candidates))
	copy(queue, candidates)

	for i := 0; i < len(queue); i++ {
		if err := ctx.Err(); err != nil {
			logger.Debug("发送取消", "sendID", sendID, "error", err)
			break
		}

		switch c := queue[i].(type) {
		case types.DestCandidate:
			queue = l.expandDest(ctx, tenant, queue, i, c, sendID)
			i--

		case types.CurrentCandidate:
			entries := l.reg.FindConnected(tenant, c.Key.Proto, c.Key.IP, c.Key.Port, c.Key.Resource)
			if len(entries) == 0 {
				logger.Debug("复用候选无现存连接", "sendID", sendID, "key", c.Key.String())
				continue
			}
			conn, ok := entries[0].Owner.(interfaces.Connection)
			if !ok {
				continue
			}
			msg, err := l.deliver(entries[0].Transport, conn, render)
			if err == nil {
				return msg, nil
			}
			// 不重试同一连接
			logger.Debug("复用连接投递失败", "sendID", sendID, "key", c.Key.String(), "error", err)

		case types.FlowCandidate:
			msg, err := l.deliverFlow(c.Transport, c.Conn, render)
			if err == nil {
				return msg, nil
			}
			logger.Debug("强制流投递失败", "sendID", sendID, "transport", c.Transport.String(), "error", err)

		case types.AddrCandidate:
			if c.Port == 0 {
				if def := c.Proto.DefaultPort(); def != 0 {
					// 改写为默认端口后重试本候选
					c.Port = def
					queue[i] = c
					i--
					continue
				}
				// 协议没有默认端口：不改写，按原样进入建立路径淘汰
			}

			msg, promote, err := l.sendToAddr(ctx, tenant, c, render, opts, sendID)
			if err == nil {
				return msg, nil
			}
			if promote {
				// 数据报超限：把同一地址升级为 TCP，紧随其后重试，
				// 不动剩余尾部
				tcpCand := types.AddrCandidate{
					Proto:    types.ProtocolTCP,
					IP:       c.IP,
					Port:     c.Port,
					Resource: c.Resource,
					Origin:   c.Origin,
				}
				queue = insertAt(queue, i+1, tcpCand)
				logger.Debug("数据报超限，升级为 TCP 重试", "sendID", sendID, "addr", c.IP.String())
			}

		default:
			logger.Warn("无法识别的发送候选，跳过", "sendID", sendID, "candidate", c)
		}
	}

	metricSendFailures.Inc()
	logger.Debug("候选列表耗尽，发送失败", "sendID", sendID, "tenant", tenant)
	return nil, ErrSendFailed
}

// expandDest 展开符号目标并原地拼接
func (l *Layer) expandDest(ctx context.Context, tenant types.Tenant, queue []types.Candidate, i int, c types.DestCandidate, sendID string) []types.Candidate {
	var resolved []types.AddrCandidate
	if l.resolver != nil {
		var err error
		resolved, err = l.resolver.Resolve(ctx, tenant, c.URI)
		if err != nil {
			logger.Debug("目标解析失败", "sendID", sendID, "uri", c.URI, "error", err)
		}
	} else {
		logger.Warn("未配置解析器，符号目标被跳过", "sendID", sendID, "uri", c.URI)
	}

	// 给下游候选标注来源目标，用于日志诊断
	repl := make([]types.Candidate, 0, len(resolved))
	for _, a := range resolved {
		a.Origin = c.URI
		repl = append(repl, a)
	}
	return splice(queue, i, repl)
}

// sendToAddr 处理具体地址候选项
//
// 返回值 promote 表示需要把该候选升级为 TCP 重试。
func (l *Layer) sendToAddr(ctx context.Context, tenant types.Tenant, c types.AddrCandidate, render interfaces.RenderFunc, opts interfaces.SendOptions, sendID string) (msg []byte, promote bool, err error) {
	metricSendAttempts.WithLabelValues(c.Proto.String()).Inc()

	// 先按精确键复用已有连接
	if entries := l.reg.FindConnected(tenant, c.Proto, c.IP, c.Port, c.Resource); len(entries) > 0 {
		if conn, ok := entries[0].Owner.(interfaces.Connection); ok {
			msg, err = l.deliver(entries[0].Transport, conn, render)
			if err == nil {
				return msg, false, nil
			}
			logger.Debug("已有连接投递失败", "sendID", sendID,
				"addr", c.IP.String(), "proto", c.Proto.String(), "origin", c.Origin, "error", err)
			return nil, errors.Is(err, types.ErrMessageTooLarge), err
		}
	}

	// 没有现存连接：经建立器新建
	connOpts := opts.Connect
	connOpts.Resource = c.Resource
	conn, tr, err := l.Connect(ctx, tenant, c.Proto, c.IP, c.Port, c.Resource, connOpts)
	if err != nil {
		logger.Debug("连接建立失败", "sendID", sendID,
			"addr", c.IP.String(), "proto", c.Proto.String(), "origin", c.Origin, "error", err)
		return nil, false, err
	}

	msg, err = l.deliver(tr, conn, render)
	if err == nil {
		return msg, false, nil
	}
	logger.Debug("新建连接投递失败", "sendID", sendID,
		"addr", c.IP.String(), "proto", c.Proto.String(), "error", err)
	return nil, errors.Is(err, types.ErrMessageTooLarge), err
}

// deliver 渲染并经连接投递
func (l *Layer) deliver(tr types.Transport, conn interfaces.Connection, render interfaces.RenderFunc) ([]byte, error) {
	return l.deliverFlow(tr, conn, render)
}

// deliverFlow 渲染并经任意流句柄投递
func (l *Layer) deliverFlow(tr types.Transport, flow types.Flow, render interfaces.RenderFunc) ([]byte, error) {
	msg, err := render(tr)
	if err != nil {
		return nil, err
	}
	if err := flow.Send(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// splice 用 repl 替换 queue[i]
func splice(queue []types.Candidate, i int, repl []types.Candidate) []types.Candidate {
	out := make([]types.Candidate, 0, len(queue)-1+len(repl))
	out = append(out, queue[:i]...)
	out = append(out, repl...)
	out = append(out, queue[i+1:]...)
	return out
}

// insertAt 在 queue[i] 处插入一个候选
func insertAt(queue []types.Candidate, i int, c types.Candidate) []types.Candidate {
	out := make([]types.Candidate, 0, len(queue)+1)
	out = append(out, queue[:i]...)
	out = append(out, c)
	out = append(out, queue[i:]...)
	return out
}
