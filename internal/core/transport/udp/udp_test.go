package udp

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// inbound 捕获入站消息
type inbound struct {
	tr      types.Transport
	payload []byte
}

func captureHandler(ch chan inbound) interfaces.MessageHandler {
	return func(tr types.Transport, payload []byte) {
		ch <- inbound{tr: tr, payload: payload}
	}
}

// TestUDPLoopback 测试回环上的双向收发
func TestUDPLoopback(t *testing.T) {
	cfg := config.NewConfig()
	reg := registry.New()
	drv := NewDriver(cfg, reg)

	ctx := context.Background()
	inboxA := make(chan inbound, 4)
	inboxB := make(chan inbound, 4)

	la, err := drv.Listen(ctx, "a", loopback, 0, interfaces.ListenOptions{Handler: captureHandler(inboxA)})
	require.NoError(t, err)
	defer la.Close()
	lb, err := drv.Listen(ctx, "b", loopback, 0, interfaces.ListenOptions{Handler: captureHandler(inboxB)})
	require.NoError(t, err)
	defer lb.Close()

	portA := la.Transport().LocalPort
	portB := lb.Transport().LocalPort
	require.NotZero(t, portA, "端口 0 监听应记录实际分配的端口")

	// A -> B
	conn, err := la.Connect(ctx, loopback, portB, interfaces.ConnectOptions{})
	require.NoError(t, err)
	require.NoError(t, conn.Send([]byte("ping")))

	select {
	case got := <-inboxB:
		assert.Equal(t, []byte("ping"), got.payload)
		assert.Equal(t, loopback, got.tr.RemoteIP)
		assert.Equal(t, portA, got.tr.RemotePort, "来源记录应指向 A 的绑定端口")
	case <-time.After(2 * time.Second):
		t.Fatal("等待入站数据报超时")
	}

	// B -> A：经 B 侧的轻量连接原路回发
	back, err := lb.Connect(ctx, loopback, portA, interfaces.ConnectOptions{})
	require.NoError(t, err)
	require.NoError(t, back.Send([]byte("pong")))

	select {
	case got := <-inboxA:
		assert.Equal(t, []byte("pong"), got.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("等待回程数据报超时")
	}
}

// TestUDPMessageTooLarge 测试超限数据报报错
func TestUDPMessageTooLarge(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Transport.MaxDatagramSize = 100
	reg := registry.New()
	drv := NewDriver(cfg, reg)

	ctx := context.Background()
	la, err := drv.Listen(ctx, "a", loopback, 0, interfaces.ListenOptions{})
	require.NoError(t, err)
	defer la.Close()

	conn, err := la.Connect(ctx, loopback, 5060, interfaces.ConnectOptions{})
	require.NoError(t, err)

	err = conn.Send(make([]byte, 101))
	assert.ErrorIs(t, err, types.ErrMessageTooLarge)

	// 未超限的照常发送
	assert.NoError(t, conn.Send(make([]byte, 100)))
}

// TestUDPRegistryLifecycle 测试监听器关闭时的注册表清理
func TestUDPRegistryLifecycle(t *testing.T) {
	cfg := config.NewConfig()
	reg := registry.New()
	drv := NewDriver(cfg, reg)

	ctx := context.Background()
	la, err := drv.Listen(ctx, "a", loopback, 0, interfaces.ListenOptions{})
	require.NoError(t, err)

	_, err = la.Connect(ctx, loopback, 5060, interfaces.ConnectOptions{})
	require.NoError(t, err)

	require.Len(t, reg.ListListeners("a"), 1)
	require.Len(t, reg.ListConnections("a"), 1)

	// 连接随监听器一起关闭，条目自动清理
	require.NoError(t, la.Close())
	assert.Eventually(t, func() bool {
		return len(reg.All("a")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestUDPCloseUnblocksReadLoop 测试读循环阻塞时关闭仍及时返回
func TestUDPCloseUnblocksReadLoop(t *testing.T) {
	cfg := config.NewConfig()
	reg := registry.New()
	drv := NewDriver(cfg, reg)

	la, err := drv.Listen(context.Background(), "a", loopback, 0, interfaces.ListenOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- la.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("关闭未返回：读循环没有被解除阻塞")
	}
}

// TestUDPClosedConnRejectsSend 测试关闭后的连接拒绝发送
func TestUDPClosedConnRejectsSend(t *testing.T) {
	cfg := config.NewConfig()
	reg := registry.New()
	drv := NewDriver(cfg, reg)

	ctx := context.Background()
	la, err := drv.Listen(ctx, "a", loopback, 0, interfaces.ListenOptions{})
	require.NoError(t, err)
	defer la.Close()

	conn, err := la.Connect(ctx, loopback, 5060, interfaces.ConnectOptions{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.Send([]byte("x")), types.ErrConnectionClosed)
}
