package transport

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/dep2p/go-siptransport/pkg/types"
)

// HostOptions GetListenHost 选项
type HostOptions struct {
	// Host 调用方显式指定的通告主机，优先于一切配置
	Host string
}

// GetListenHost 解析监听器的通告主机
//
// 优先级：显式指定 > 租户配置的地址族专属主机 > auto 默认。
// auto 模式下，监听器绑定在通配地址时替换为真实出站地址
// （租户配置的默认地址来源优先，否则探测）；绑定在具体地址
// 时直接通告该地址。地址族（v4/v6）在两个独立的配置键和两个
// 独立的默认地址来源之间选择。
func (l *Layer) GetListenHost(tenant types.Tenant, ip netip.Addr, opts HostOptions) string {
	if opts.Host != "" {
		return opts.Host
	}

	lc := l.listenConfig(tenant)
	family := types.FamilyOf(ip)

	explicit := lc.Host4
	fallback := lc.Default4
	if family == types.FamilyIPv6 {
		explicit = lc.Host6
		fallback = lc.Default6
	}
	if explicit != "" {
		return explicit
	}

	if types.IsWildcard(ip) {
		if fallback != "" {
			return fallback
		}
		return l.local.MainAddr(family).String()
	}
	return ip.String()
}

// RouteOptions MakeRoute 选项
type RouteOptions struct {
	// LooseRouting 追加 lr 参数
	LooseRouting bool

	// Params 追加的其他 URI 参数（不含分号）
	Params []string
}

// MakeRoute 构造 Route URI
//
// 协议与 scheme 的配对已经隐含传输方式时（sips+TLS、sip+UDP）
// 省略 transport 参数，否则前置追加。端口为 0 时省略。
func MakeRoute(scheme string, proto types.Protocol, host string, port uint16, user string, opts RouteOptions) string {
	var b strings.Builder

	b.WriteString(scheme)
	b.WriteByte(':')
	if user != "" {
		b.WriteString(user)
		b.WriteByte('@')
	}

	// IPv6 字面量需要方括号
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		fmt.Fprintf(&b, "[%s]", host)
	} else {
		b.WriteString(host)
	}

	if port != 0 {
		fmt.Fprintf(&b, ":%d", port)
	}

	implied := (scheme == "sips" && proto == types.ProtocolTLS) ||
		(scheme == "sip" && proto == types.ProtocolUDP)
	if !implied && proto != types.ProtocolUnknown {
		fmt.Fprintf(&b, ";transport=%s", proto.String())
	}

	if opts.LooseRouting {
		b.WriteString(";lr")
	}
	for _, p := range opts.Params {
		b.WriteByte(';')
		b.WriteString(p)
	}

	return b.String()
}
