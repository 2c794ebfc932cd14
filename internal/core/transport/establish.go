package transport

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// Connect 连接建立器
//
// 无连接协议（UDP 类）不加锁——UDP 的「连接」只是轻量的
// 本地绑定，没有网络握手；直接委托监听器的连接操作。
//
// 面向连接的协议用进程级软锁串行化对同一
// (租户, 协议, IP, 端口, 资源) 键的并发尝试：抢到锁的在
// 作用域保护下执行实际拨号（任何退出路径都释放锁，包括
// panic）；没抢到的按固定间隔重试，预算耗尽返回忙错误。
// 这把无限期的争用变成确定性的失败而不是悬挂。
func (l *Layer) Connect(ctx context.Context, tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, resource string, opts interfaces.ConnectOptions) (interfaces.Connection, types.Transport, error) {
	if l.closed.Load() {
		return nil, types.Transport{}, ErrClosed
	}
	if opts.Timeout == 0 {
		opts.Timeout = l.cfg.Transport.DialTimeout.Duration()
	}
	opts.Resource = resource

	if !proto.ConnectionOriented() {
		return l.dialGuarded(ctx, tenant, proto, ip, port, opts)
	}

	key := lockKey{tenant: tenant, proto: proto, ip: ip.Unmap(), port: port, resource: resource}

	acquired := false
	for attempt := 0; attempt < l.cfg.Transport.LockRetryLimit; attempt++ {
		ok, err := l.locks.TryAcquire(key)
		if err != nil {
			return nil, types.Transport{}, fmt.Errorf("%w: %v", ErrLocking, err)
		}
		if ok {
			acquired = true
			break
		}

		select {
		case <-ctx.Done():
			return nil, types.Transport{}, ctx.Err()
		case <-l.clock.After(l.cfg.Transport.LockRetryInterval.Duration()):
		}
	}

	if !acquired {
		metricLockBusy.Inc()
		logger.Warn("连接建立锁争用超时", "tenant", tenant,
			"proto", proto.String(), "addr", ip.String(), "port", port)
		return nil, types.Transport{}, ErrConnectionBusy
	}
	defer l.locks.Release(key)

	return l.dialGuarded(ctx, tenant, proto, ip, port, opts)
}

// dialGuarded 在 panic 屏障内执行实际拨号
//
// 拨号中的意外故障被捕获并转为失败结果，不向上传播；
// 调用方 defer 的锁释放因此在任何结局下都会执行。
func (l *Layer) dialGuarded(ctx context.Context, tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (conn interfaces.Connection, tr types.Transport, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("拨号发生意外故障", "proto", proto.String(), "addr", ip.String(), "panic", r)
			conn, tr, err = nil, types.Transport{}, fmt.Errorf("dial fault: %v", r)
		}
	}()
	return l.dial(ctx, tenant, proto, ip, port, opts)
}

// dial 实际拨号：找本地监听器，委托其发起连接
func (l *Layer) dial(ctx context.Context, tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (interfaces.Connection, types.Transport, error) {
	entries := l.reg.FindListening(tenant, proto, types.FamilyOf(ip))
	if len(entries) == 0 {
		return nil, types.Transport{}, ErrNoListeningTransport
	}

	lst, ok := entries[0].Owner.(interfaces.Listener)
	if !ok {
		return nil, types.Transport{}, ErrNoListeningTransport
	}

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := lst.Connect(dctx, ip, port, opts)
	if err != nil {
		return nil, types.Transport{}, err
	}

	metricEstablished.WithLabelValues(proto.String()).Inc()
	return conn, conn.Transport(), nil
}
