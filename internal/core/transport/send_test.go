package transport

import (
	"context"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

const testTenant = types.Tenant("core")

var (
	peerA = netip.MustParseAddr("192.0.2.10")
	peerB = netip.MustParseAddr("192.0.2.20")
)

// newSendFixture 组装带 UDP 假驱动与监听器的 Layer
func newSendFixture(t *testing.T, drivers ...*fakeDriver) (*Layer, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	opts := make([]Option, 0, len(drivers))
	for _, d := range drivers {
		d.reg = reg
		opts = append(opts, WithDriver(d))
	}

	l, err := NewLayer(testConfig(), reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, reg
}

// TestSendEmptyCandidates 测试空候选列表直接失败
func TestSendEmptyCandidates(t *testing.T) {
	l, _ := newSendFixture(t)

	_, err := l.Send(context.Background(), testTenant, nil, renderStatic("x"), interfaces.SendOptions{})
	assert.ErrorIs(t, err, ErrSendFailed)
}

// TestSendAddrCandidate 测试具体地址候选：建立连接并投递
func TestSendAddrCandidate(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	l, _ := newSendFixture(t, udp)

	_, err := l.StartTransport(context.Background(), testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	msg, err := l.Send(context.Background(), testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerA, Port: 5062},
	}, renderStatic("INVITE"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("INVITE"), msg)

	require.Equal(t, 1, udp.listeners[0].dialCount())
	assert.Equal(t, netip.AddrPortFrom(peerA, 5062), udp.listeners[0].dialed[0])
}

// TestSendPortZeroRewrite 测试端口 0 改写为协议默认端口
func TestSendPortZeroRewrite(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	l, _ := newSendFixture(t, udp)

	_, err := l.StartTransport(context.Background(), testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	_, err = l.Send(context.Background(), testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerA, Port: 0},
	}, renderStatic("x"), interfaces.SendOptions{})
	require.NoError(t, err)

	require.Equal(t, 1, udp.listeners[0].dialCount())
	assert.Equal(t, uint16(5060), udp.listeners[0].dialed[0].Port(), "端口 0 应改写为 UDP 默认端口")
}

// TestSendPortZeroWithoutDefault 测试无默认端口的协议候选被淘汰而非反复改写
func TestSendPortZeroWithoutDefault(t *testing.T) {
	l, _ := newSendFixture(t)

	done := make(chan error, 1)
	go func() {
		_, err := l.Send(context.Background(), testTenant, []types.Candidate{
			types.AddrCandidate{Proto: types.ProtocolUnknown, IP: peerA, Port: 0},
		}, renderStatic("x"), interfaces.SendOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSendFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("未知协议的端口 0 候选未被淘汰")
	}
}

// TestSendReusesExistingConnection 测试精确键命中时复用连接
func TestSendReusesExistingConnection(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	l, reg := newSendFixture(t, udp)

	_, err := l.StartTransport(context.Background(), testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	// 预置一条到 peerA 的连接
	tr := types.Transport{
		Proto:      types.ProtocolUDP,
		LocalIP:    netip.MustParseAddr("127.0.0.1"),
		LocalPort:  5060,
		ListenIP:   netip.MustParseAddr("127.0.0.1"),
		ListenPort: 5060,
		RemoteIP:   peerA,
		RemotePort: 5062,
	}
	existing := newFakeConn(tr, nil)
	reg.RegisterConnection(testTenant, tr, existing)

	_, err = l.Send(context.Background(), testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerA, Port: 5062},
	}, renderStatic("x"), interfaces.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, existing.sentCount(), "应经既有连接投递")
	assert.Equal(t, 0, udp.listeners[0].dialCount(), "不应新建连接")
}

// TestSendPromoteToTCP 测试数据报超限时升级为 TCP 重试
func TestSendPromoteToTCP(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	tcp := &fakeDriver{proto: types.ProtocolTCP}
	l, reg := newSendFixture(t, udp, tcp)

	ctx := context.Background()
	_, err := l.StartTransport(ctx, testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)
	_, err = l.StartTransport(ctx, testTenant, types.ProtocolTCP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	// 既有 UDP 连接投递时报超限
	tr := types.Transport{
		Proto:      types.ProtocolUDP,
		LocalIP:    netip.MustParseAddr("127.0.0.1"),
		LocalPort:  5060,
		ListenIP:   netip.MustParseAddr("127.0.0.1"),
		ListenPort: 5060,
		RemoteIP:   peerA,
		RemotePort: 5060,
	}
	tooBig := newFakeConn(tr, fmt.Errorf("%w: 2000 > 1300", types.ErrMessageTooLarge))
	reg.RegisterConnection(testTenant, tr, tooBig)

	msg, err := l.Send(ctx, testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerA, Port: 5060},
	}, renderStatic("big message"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("big message"), msg)

	// UDP 失败后经 TCP 向同一地址投递
	require.Equal(t, 1, tcp.listeners[0].dialCount())
	assert.Equal(t, netip.AddrPortFrom(peerA, 5060), tcp.listeners[0].dialed[0])
	assert.Equal(t, 0, udp.listeners[0].dialCount())
}

// TestSendFallbackOrder 测试严格从左到右回退
func TestSendFallbackOrder(t *testing.T) {
	// TLS 驱动拨号必败，UDP 驱动正常
	tlsDrv := &fakeDriver{proto: types.ProtocolTLS, connectErr: fmt.Errorf("refused")}
	udp := &fakeDriver{proto: types.ProtocolUDP}
	l, _ := newSendFixture(t, tlsDrv, udp)

	ctx := context.Background()
	_, err := l.StartTransport(ctx, testTenant, types.ProtocolTLS,
		netip.MustParseAddr("127.0.0.1"), 5061, interfaces.ListenOptions{})
	require.NoError(t, err)
	_, err = l.StartTransport(ctx, testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	msg, err := l.Send(ctx, testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolTLS, IP: peerA, Port: 5061},
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerB, Port: 5060},
	}, renderStatic("x"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), msg)
	assert.Equal(t, 1, udp.listeners[0].dialCount(), "首候选失败后落到次候选")
}

// TestSendDestCandidateExpansion 测试符号目标经解析器展开
func TestSendDestCandidateExpansion(t *testing.T) {
	udp := &fakeDriver{proto: types.ProtocolUDP}
	reg := registry.New()
	udp.reg = reg

	resolver := &fakeResolver{table: map[string][]types.AddrCandidate{
		"sip:gw.example.com": {
			{Proto: types.ProtocolUDP, IP: peerA, Port: 5060},
		},
	}}

	l, err := NewLayer(testConfig(), reg, WithDriver(udp), WithResolver(resolver))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	_, err = l.StartTransport(ctx, testTenant, types.ProtocolUDP,
		netip.MustParseAddr("127.0.0.1"), 5060, interfaces.ListenOptions{})
	require.NoError(t, err)

	msg, err := l.Send(ctx, testTenant, []types.Candidate{
		types.DestCandidate{URI: "sip:gw.example.com"},
	}, renderStatic("x"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), msg)
	assert.Equal(t, 1, udp.listeners[0].dialCount())
}

// TestSendUnresolvableDest 测试解析失败的符号目标被跳过
func TestSendUnresolvableDest(t *testing.T) {
	reg := registry.New()
	resolver := &fakeResolver{err: fmt.Errorf("no such host")}

	l, err := NewLayer(testConfig(), reg, WithResolver(resolver))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	_, err = l.Send(context.Background(), testTenant, []types.Candidate{
		types.DestCandidate{URI: "sip:nowhere.invalid"},
	}, renderStatic("x"), interfaces.SendOptions{})
	assert.ErrorIs(t, err, ErrSendFailed)
}

// TestSendCurrentCandidate 测试连接复用候选
func TestSendCurrentCandidate(t *testing.T) {
	l, reg := newSendFixture(t)

	key := types.ConnKey{Proto: types.ProtocolTCP, IP: peerA, Port: 5060}

	// 无现存连接：跳过后耗尽
	_, err := l.Send(context.Background(), testTenant, []types.Candidate{
		types.CurrentCandidate{Key: key},
	}, renderStatic("x"), interfaces.SendOptions{})
	assert.ErrorIs(t, err, ErrSendFailed)

	// 有现存连接：命中投递
	tr := types.Transport{
		Proto:      types.ProtocolTCP,
		LocalIP:    netip.MustParseAddr("127.0.0.1"),
		LocalPort:  5060,
		ListenIP:   netip.MustParseAddr("127.0.0.1"),
		ListenPort: 5060,
		RemoteIP:   peerA,
		RemotePort: 5060,
	}
	conn := newFakeConn(tr, nil)
	reg.RegisterConnection(testTenant, tr, conn)

	msg, err := l.Send(context.Background(), testTenant, []types.Candidate{
		types.CurrentCandidate{Key: key},
	}, renderStatic("reply"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), msg)
	assert.Equal(t, 1, conn.sentCount())
}

// TestSendFlowCandidate 测试强制流候选无视注册表
func TestSendFlowCandidate(t *testing.T) {
	l, _ := newSendFixture(t)

	tr := types.Transport{Proto: types.ProtocolTCP, RemoteIP: peerA, RemotePort: 5060}
	conn := newFakeConn(tr, nil)

	msg, err := l.Send(context.Background(), testTenant, []types.Candidate{
		types.FlowCandidate{Conn: conn, Transport: tr},
	}, renderStatic("via flow"), interfaces.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("via flow"), msg)
	assert.Equal(t, 1, conn.sentCount())
}

// TestSendRenderError 测试渲染失败视为候选失败
func TestSendRenderError(t *testing.T) {
	l, _ := newSendFixture(t)

	tr := types.Transport{Proto: types.ProtocolTCP, RemoteIP: peerA, RemotePort: 5060}
	conn := newFakeConn(tr, nil)

	render := func(types.Transport) ([]byte, error) {
		return nil, fmt.Errorf("render boom")
	}
	_, err := l.Send(context.Background(), testTenant, []types.Candidate{
		types.FlowCandidate{Conn: conn, Transport: tr},
	}, render, interfaces.SendOptions{})
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 0, conn.sentCount())
}

// TestSendAfterClose 测试关闭后的发送直接拒绝
func TestSendAfterClose(t *testing.T) {
	reg := registry.New()
	l, err := NewLayer(testConfig(), reg)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Send(context.Background(), testTenant, []types.Candidate{
		types.AddrCandidate{Proto: types.ProtocolUDP, IP: peerA, Port: 5060},
	}, renderStatic("x"), interfaces.SendOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
