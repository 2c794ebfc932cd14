package transport

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// TestConnectNoListener 测试无监听器时的连接失败
func TestConnectNoListener(t *testing.T) {
	reg := registry.New()
	l, err := NewLayer(testConfig(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	_, _, err = l.Connect(context.Background(), testTenant, types.ProtocolTCP,
		peerA, 5060, "", interfaces.ConnectOptions{})
	assert.ErrorIs(t, err, ErrNoListeningTransport)
}

// TestConnectDatagramSkipsLock 测试无连接协议不经软锁
func TestConnectDatagramSkipsLock(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	l, _ := newSendFixture(t, udp)

	ctx := context.Background()
	_, err := l.StartTransport(ctx, testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	// 预先占住同键软锁；UDP 连接不检查它，应照常成功
	key := lockKey{tenant: testTenant, proto: types.ProtocolUDP, ip: peerA, port: 5062}
	ok, err := l.locks.TryAcquire(key)
	require.NoError(t, err)
	require.True(t, ok)
	defer l.locks.Release(key)

	conn, tr, err := l.Connect(ctx, testTenant, types.ProtocolUDP,
		peerA, 5062, "", interfaces.ConnectOptions{})
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, peerA, tr.RemoteIP)
}

// TestConnectBusy 测试软锁重试耗尽返回忙错误
func TestConnectBusy(t *testing.T) {
	tcp := &fakeDriver{proto: types.ProtocolTCP}
	l, _ := newSendFixture(t, tcp)

	ctx := context.Background()
	_, err := l.StartTransport(ctx, testTenant, types.ProtocolTCP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	// 占住软锁不放，模拟另一个建立尝试长期在途
	key := lockKey{tenant: testTenant, proto: types.ProtocolTCP, ip: peerA, port: 5060}
	ok, err := l.locks.TryAcquire(key)
	require.NoError(t, err)
	require.True(t, ok)
	defer l.locks.Release(key)

	_, _, err = l.Connect(ctx, testTenant, types.ProtocolTCP,
		peerA, 5060, "", interfaces.ConnectOptions{})
	assert.ErrorIs(t, err, ErrConnectionBusy)
}

// TestConnectReleasesLock 测试各种结局都释放软锁
func TestConnectReleasesLock(t *testing.T) {
	ctx := context.Background()
	key := lockKey{tenant: testTenant, proto: types.ProtocolTCP, ip: peerA, port: 5060}

	lockFree := func(t *testing.T, l *Layer) {
		t.Helper()
		ok, err := l.locks.TryAcquire(key)
		require.NoError(t, err)
		require.True(t, ok, "连接尝试结束后软锁应已释放")
		l.locks.Release(key)
	}

	t.Run("success", func(t *testing.T) {
		tcp := &fakeDriver{proto: types.ProtocolTCP}
		l, _ := newSendFixture(t, tcp)
		_, err := l.StartTransport(ctx, testTenant, types.ProtocolTCP,
			netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
		require.NoError(t, err)

		_, _, err = l.Connect(ctx, testTenant, types.ProtocolTCP, peerA, 5060, "", interfaces.ConnectOptions{})
		require.NoError(t, err)
		lockFree(t, l)
	})

	t.Run("dial error", func(t *testing.T) {
		tcp := &fakeDriver{proto: types.ProtocolTCP, connectErr: assert.AnError}
		l, _ := newSendFixture(t, tcp)
		_, err := l.StartTransport(ctx, testTenant, types.ProtocolTCP,
			netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
		require.NoError(t, err)

		_, _, err = l.Connect(ctx, testTenant, types.ProtocolTCP, peerA, 5060, "", interfaces.ConnectOptions{})
		require.Error(t, err)
		lockFree(t, l)
	})

	t.Run("dial panic", func(t *testing.T) {
		tcp := &fakeDriver{proto: types.ProtocolTCP, connPanic: true}
		l, _ := newSendFixture(t, tcp)
		_, err := l.StartTransport(ctx, testTenant, types.ProtocolTCP,
			netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
		require.NoError(t, err)

		// 拨号中的 panic 被屏障捕获并转为错误
		_, _, err = l.Connect(ctx, testTenant, types.ProtocolTCP, peerA, 5060, "", interfaces.ConnectOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dial fault")
		lockFree(t, l)
	})
}

// TestConnectConcurrentWaits 测试并发建立经软锁串行化
func TestConnectConcurrentWaits(t *testing.T) {
	tcp := &fakeDriver{proto: types.ProtocolTCP, connectDelay: 20 * time.Millisecond}
	l, _ := newSendFixture(t, tcp)

	ctx := context.Background()
	_, err := l.StartTransport(ctx, testTenant, types.ProtocolTCP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	// 放宽重试预算，保证等待方能等到锁释放
	l.cfg.Transport.LockRetryLimit = 200

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = l.Connect(ctx, testTenant, types.ProtocolTCP,
				peerA, 5060, "", interfaces.ConnectOptions{})
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 2, tcp.listeners[0].dialCount(), "两次尝试先后完成")
}

// TestConnectAfterClose 测试关闭后的连接直接拒绝
func TestConnectAfterClose(t *testing.T) {
	reg := registry.New()
	l, err := NewLayer(testConfig(), reg)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, _, err = l.Connect(context.Background(), testTenant, types.ProtocolTCP,
		peerA, 5060, "", interfaces.ConnectOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
