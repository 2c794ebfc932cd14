// Package netaddr 提供本机地址集合与默认出站地址
//
// netaddr 位于依赖层次的底层，不依赖其他 core 模块。
// 本地地址集合用于本地性判定（IsLocal），默认出站地址用于
// 通配监听器的通告主机替换。
package netaddr

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("core/netaddr")

// 本地地址集合的缓存刷新间隔
const refreshInterval = time.Minute

// Set 本机地址集合
//
// 缓存本机全部接口地址，按需刷新；并提供按地址族的
// 默认出站地址（配置覆盖优先）。
type Set struct {
	mu        sync.RWMutex
	addrs     map[netip.Addr]struct{}
	refreshed time.Time

	// 配置指定的默认出站地址（为空则探测）
	default4 netip.Addr
	default6 netip.Addr

	// 探测得到的出站地址缓存
	probed4 netip.Addr
	probed6 netip.Addr
	probeMu sync.Mutex
}

// NewSet 创建本机地址集合
func NewSet(cfg config.ListenConfig) *Set {
	s := &Set{
		addrs: make(map[netip.Addr]struct{}),
	}
	if a, err := netip.ParseAddr(cfg.Default4); err == nil {
		s.default4 = a
	}
	if a, err := netip.ParseAddr(cfg.Default6); err == nil {
		s.default6 = a
	}
	s.refresh()
	return s
}

// refresh 重新枚举接口地址
func (s *Set) refresh() {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Warn("枚举接口地址失败", "error", err)
		return
	}

	addrs := make(map[netip.Addr]struct{}, len(ifaceAddrs))
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addrs[ip.Unmap()] = struct{}{}
	}

	s.mu.Lock()
	s.addrs = addrs
	s.refreshed = time.Now()
	s.mu.Unlock()
}

// Contains 返回 ip 是否属于本机地址集合
//
// 通配地址（任一地址族）恒为本机地址。
func (s *Set) Contains(ip netip.Addr) bool {
	if types.IsWildcard(ip) {
		return true
	}

	s.mu.RLock()
	_, ok := s.addrs[ip.Unmap()]
	stale := time.Since(s.refreshed) > refreshInterval
	s.mu.RUnlock()

	if ok || !stale {
		return ok
	}

	// 缓存过期且未命中，刷新后再查一次
	s.refresh()
	s.mu.RLock()
	_, ok = s.addrs[ip.Unmap()]
	s.mu.RUnlock()
	return ok
}

// Insert 手工加入一个本机地址（测试与多宿部署用）
func (s *Set) Insert(ip netip.Addr) {
	s.mu.Lock()
	s.addrs[ip.Unmap()] = struct{}{}
	s.mu.Unlock()
}

// MainAddr 返回指定地址族的默认出站地址
//
// 优先返回配置指定的地址；否则通过一次无流量的 UDP 拨号
// 探测主路由的本地地址并缓存。探测失败返回回环地址。
func (s *Set) MainAddr(family types.Family) netip.Addr {
	if family == types.FamilyIPv6 {
		if s.default6.IsValid() {
			return s.default6
		}
		return s.probe(family)
	}
	if s.default4.IsValid() {
		return s.default4
	}
	return s.probe(family)
}

// probe 探测指定地址族的出站地址
func (s *Set) probe(family types.Family) netip.Addr {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	if family == types.FamilyIPv6 && s.probed6.IsValid() {
		return s.probed6
	}
	if family == types.FamilyIPv4 && s.probed4.IsValid() {
		return s.probed4
	}

	network, probeAddr := "udp4", "192.0.2.1:5060"
	fallback := netip.AddrFrom4([4]byte{127, 0, 0, 1})
	if family == types.FamilyIPv6 {
		network, probeAddr = "udp6", "[2001:db8::1]:5060"
		fallback = netip.IPv6Loopback()
	}

	// UDP 拨号不产生任何网络流量，仅用于查询路由表
	conn, err := net.Dial(network, probeAddr)
	if err != nil {
		logger.Debug("出站地址探测失败，使用回环地址", "family", family, "error", err)
		return fallback
	}
	defer conn.Close()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fallback
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return fallback
	}
	ip = ip.Unmap()

	if family == types.FamilyIPv6 {
		s.probed6 = ip
	} else {
		s.probed4 = ip
	}
	return ip
}
