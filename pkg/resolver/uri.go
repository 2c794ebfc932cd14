package resolver

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/dep2p/go-siptransport/pkg/types"
)

// ErrNotLiteral 主机部分不是 IP 字面量
var ErrNotLiteral = errors.New("resolver: host is not an address literal")

// ParseURI 把 SIP URI 字面量解析为单个地址候选
//
// 支持 sip: / sips: 两种 scheme。传输协议取 transport 参数；
// 缺省时 sip 对应 UDP，sips 对应 TLS。端口缺省时为 0，由发送
// 编排器改写为协议默认端口。主机必须是 IPv4 或带方括号的
// IPv6 字面量；域名主机需要外部解析器。
//
//	sip:10.0.0.1                      -> UDP 10.0.0.1:0
//	sip:alice@10.0.0.1:5070           -> UDP 10.0.0.1:5070
//	sips:[2001:db8::1];transport=wss  -> WSS [2001:db8::1]:0
func ParseURI(uri string) (types.AddrCandidate, error) {
	var c types.AddrCandidate

	rest, secure, err := splitScheme(uri)
	if err != nil {
		return c, err
	}

	// 用户部分与参数部分
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	var params string
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		rest, params = rest[:semi], rest[semi+1:]
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return c, fmt.Errorf("resolver: parse %q: %w", uri, err)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return c, fmt.Errorf("%w: %q", ErrNotLiteral, host)
	}

	proto := types.ProtocolUDP
	if secure {
		proto = types.ProtocolTLS
	}
	if t := paramValue(params, "transport"); t != "" {
		proto = types.ParseProtocol(t)
		if proto == types.ProtocolUnknown {
			return c, fmt.Errorf("resolver: parse %q: unknown transport %q", uri, t)
		}
	}

	c.Proto = proto
	c.IP = ip.Unmap()
	c.Port = port
	return c, nil
}

// splitScheme 剥离并判别 scheme
func splitScheme(uri string) (rest string, secure bool, err error) {
	switch {
	case strings.HasPrefix(uri, "sips:"):
		return uri[len("sips:"):], true, nil
	case strings.HasPrefix(uri, "sip:"):
		return uri[len("sip:"):], false, nil
	default:
		return "", false, fmt.Errorf("resolver: unsupported scheme in %q", uri)
	}
}

// splitHostPort 拆出主机与端口，兼容 IPv6 方括号
func splitHostPort(s string) (host string, port uint16, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errors.New("unterminated IPv6 literal")
		}
		host = s[1:end]
		s = s[end+1:]
		if s == "" {
			return host, 0, nil
		}
		if s[0] != ':' {
			return "", 0, errors.New("junk after IPv6 literal")
		}
		port, err = parsePort(s[1:])
		return host, port, err
	}

	if colon := strings.LastIndexByte(s, ':'); colon >= 0 && strings.Count(s, ":") == 1 {
		port, err = parsePort(s[colon+1:])
		return s[:colon], port, err
	}
	return s, 0, nil
}

// parsePort 解析端口号
func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// paramValue 取分号分隔参数表中指定键的值
func paramValue(params, key string) string {
	for _, p := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(p, "=")
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
