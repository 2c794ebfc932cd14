package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/netaddr"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// newHostFixture 组装带指定通告配置的 Layer
func newHostFixture(t *testing.T, listen config.ListenConfig) *Layer {
	t.Helper()

	cfg := testConfig()
	cfg.Listen = listen

	l, err := NewLayer(cfg, registry.New(), WithLocalSet(netaddr.NewSet(listen)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// TestGetListenHostExplicit 测试显式指定优先于一切配置
func TestGetListenHostExplicit(t *testing.T) {
	l := newHostFixture(t, config.ListenConfig{Host4: "sip.example.com"})

	host := l.GetListenHost("core", netip.MustParseAddr("0.0.0.0"), HostOptions{Host: "override.example.com"})
	assert.Equal(t, "override.example.com", host)
}

// TestGetListenHostConfigured 测试地址族专属的配置主机
func TestGetListenHostConfigured(t *testing.T) {
	l := newHostFixture(t, config.ListenConfig{
		Host4: "v4.example.com",
		Host6: "v6.example.com",
	})

	assert.Equal(t, "v4.example.com", l.GetListenHost("core", netip.MustParseAddr("0.0.0.0"), HostOptions{}))
	assert.Equal(t, "v6.example.com", l.GetListenHost("core", netip.MustParseAddr("::"), HostOptions{}))
}

// TestGetListenHostWildcard 测试通配监听的真实地址替换
func TestGetListenHostWildcard(t *testing.T) {
	// 配置了默认地址来源：直接使用
	l := newHostFixture(t, config.ListenConfig{Default4: "198.51.100.7"})
	assert.Equal(t, "198.51.100.7", l.GetListenHost("core", netip.MustParseAddr("0.0.0.0"), HostOptions{}))

	// 未配置：探测主出站地址（环境相关，仅断言非通配）
	l2 := newHostFixture(t, config.ListenConfig{})
	host := l2.GetListenHost("core", netip.MustParseAddr("0.0.0.0"), HostOptions{})
	assert.NotEmpty(t, host)
	assert.NotEqual(t, "0.0.0.0", host)
}

// TestGetListenHostConcrete 测试具体绑定地址直接通告
func TestGetListenHostConcrete(t *testing.T) {
	l := newHostFixture(t, config.ListenConfig{Default4: "198.51.100.7"})

	host := l.GetListenHost("core", netip.MustParseAddr("10.1.2.3"), HostOptions{})
	assert.Equal(t, "10.1.2.3", host)
}

// TestGetListenHostTenantOverride 测试租户级配置覆盖
func TestGetListenHostTenantOverride(t *testing.T) {
	l := newHostFixture(t, config.ListenConfig{Host4: "global.example.com"})
	l.SetTenantListen("edge", config.ListenConfig{Host4: "edge.example.com"})

	assert.Equal(t, "edge.example.com", l.GetListenHost("edge", netip.MustParseAddr("0.0.0.0"), HostOptions{}))
	assert.Equal(t, "global.example.com", l.GetListenHost("core", netip.MustParseAddr("0.0.0.0"), HostOptions{}))
}

// ============================================================================
//                              MakeRoute 测试
// ============================================================================

// TestMakeRoute 测试 Route URI 构造
func TestMakeRoute(t *testing.T) {
	tests := []struct {
		name   string
		scheme string
		proto  types.Protocol
		host   string
		port   uint16
		user   string
		opts   RouteOptions
		want   string
	}{
		{
			name:   "sip+udp 隐含传输，省略参数",
			scheme: "sip", proto: types.ProtocolUDP, host: "10.0.0.1", port: 5060,
			want: "sip:10.0.0.1:5060",
		},
		{
			name:   "sips+tls 隐含传输，省略参数",
			scheme: "sips", proto: types.ProtocolTLS, host: "10.0.0.1", port: 5061,
			want: "sips:10.0.0.1:5061",
		},
		{
			name:   "sip+tcp 显式传输参数",
			scheme: "sip", proto: types.ProtocolTCP, host: "10.0.0.1", port: 5060,
			want: "sip:10.0.0.1:5060;transport=tcp",
		},
		{
			name:   "端口 0 省略",
			scheme: "sip", proto: types.ProtocolUDP, host: "10.0.0.1",
			want: "sip:10.0.0.1",
		},
		{
			name:   "IPv6 字面量加方括号",
			scheme: "sip", proto: types.ProtocolUDP, host: "2001:db8::1", port: 5060,
			want: "sip:[2001:db8::1]:5060",
		},
		{
			name:   "用户部分",
			scheme: "sip", proto: types.ProtocolUDP, host: "10.0.0.1", port: 5060, user: "alice",
			want: "sip:alice@10.0.0.1:5060",
		},
		{
			name:   "宽松路由与附加参数",
			scheme: "sip", proto: types.ProtocolWS, host: "gw.example.com", port: 443,
			opts: RouteOptions{LooseRouting: true, Params: []string{"ob"}},
			want: "sip:gw.example.com:443;transport=ws;lr;ob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeRoute(tt.scheme, tt.proto, tt.host, tt.port, tt.user, tt.opts)
			assert.Equal(t, tt.want, got)
		})
	}
}
