// Package registry 提供进程级的传输注册表
//
// 注册表维护两个逻辑索引：
//   - 监听索引：(租户, 协议, 地址族) -> 监听端点
//   - 连接索引：(租户, 协议, 对端IP, 对端端口, 资源) -> 已连接端点
//
// 条目归插入它的拥有者（监听器 / 连接 actor）所有，生命周期与
// 拥有者一致：绑定 / 连接成功时插入，拥有者进程终止时自动移除。
// 自动清理通过挂在拥有者 goprocess 上的 teardown 子进程实现，
// 拥有者异常退出也不会泄漏陈旧条目。
package registry

import (
	"net/netip"
	"sync"

	"github.com/jbenet/goprocess"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
	"github.com/dep2p/go-siptransport/pkg/types"
)

var logger = log.Logger("core/registry")

// Entry 注册表条目
type Entry struct {
	Tenant    types.Tenant
	Transport types.Transport
	Owner     interfaces.Owner
}

// 监听索引键
type listenKey struct {
	tenant types.Tenant
	proto  types.Protocol
	family types.Family
}

// 连接索引键
type connKey struct {
	tenant types.Tenant
	key    types.ConnKey
}

// Registry 进程级传输注册表
//
// 所有读-改-写都在一把互斥锁下进行；缺失以空结果表示，
// 不返回错误。同一连接键下允许短暂共存多条连接。
type Registry struct {
	mu        sync.RWMutex
	listening map[listenKey][]Entry
	connected map[connKey][]Entry
	byOwner   map[interfaces.Owner][]Entry
	hooked    map[interfaces.Owner]struct{}
}

// New 创建注册表
func New() *Registry {
	return &Registry{
		listening: make(map[listenKey][]Entry),
		connected: make(map[connKey][]Entry),
		byOwner:   make(map[interfaces.Owner][]Entry),
		hooked:    make(map[interfaces.Owner]struct{}),
	}
}

// RegisterListener 注册一个监听端点
//
// 注销自动挂接在拥有者进程的生命周期上。
func (r *Registry) RegisterListener(tenant types.Tenant, tr types.Transport, owner interfaces.Owner) {
	e := Entry{Tenant: tenant, Transport: tr, Owner: owner}
	k := listenKey{tenant: tenant, proto: tr.Proto, family: tr.Family()}

	r.mu.Lock()
	r.listening[k] = append(r.listening[k], e)
	r.byOwner[owner] = append(r.byOwner[owner], e)
	needHook := r.hookLocked(owner)
	r.mu.Unlock()

	if needHook {
		r.armTeardown(owner)
	}

	logger.Debug("注册监听器", "tenant", tenant, "transport", tr.String())
	gaugeListeners.Inc()
}

// RegisterConnection 注册一个已连接端点
func (r *Registry) RegisterConnection(tenant types.Tenant, tr types.Transport, owner interfaces.Owner) {
	e := Entry{Tenant: tenant, Transport: tr, Owner: owner}
	k := connKey{tenant: tenant, key: tr.ConnKey()}

	r.mu.Lock()
	r.connected[k] = append(r.connected[k], e)
	r.byOwner[owner] = append(r.byOwner[owner], e)
	needHook := r.hookLocked(owner)
	r.mu.Unlock()

	if needHook {
		r.armTeardown(owner)
	}

	logger.Debug("注册连接", "tenant", tenant, "transport", tr.String())
	gaugeConnections.Inc()
}

// hookLocked 记录拥有者是否已挂接清理钩子（须持锁调用）
func (r *Registry) hookLocked(owner interfaces.Owner) bool {
	if _, ok := r.hooked[owner]; ok {
		return false
	}
	r.hooked[owner] = struct{}{}
	return true
}

// armTeardown 把注销挂到拥有者进程上
//
// 拥有者进程关闭（或已处于关闭状态）时，子进程的 teardown
// 无条件执行注销。
func (r *Registry) armTeardown(owner interfaces.Owner) {
	owner.Process().AddChild(goprocess.WithTeardown(func() error {
		r.Deregister(owner)
		return nil
	}))
}

// Deregister 移除拥有者的全部条目（幂等）
func (r *Registry) Deregister(owner interfaces.Owner) {
	r.mu.Lock()
	entries := r.byOwner[owner]
	delete(r.byOwner, owner)
	delete(r.hooked, owner)

	for _, e := range entries {
		if e.Transport.IsListener() {
			k := listenKey{tenant: e.Tenant, proto: e.Transport.Proto, family: e.Transport.Family()}
			r.listening[k] = removeOwner(r.listening[k], owner)
			if len(r.listening[k]) == 0 {
				delete(r.listening, k)
			}
			gaugeListeners.Dec()
		} else {
			k := connKey{tenant: e.Tenant, key: e.Transport.ConnKey()}
			r.connected[k] = removeOwner(r.connected[k], owner)
			if len(r.connected[k]) == 0 {
				delete(r.connected, k)
			}
			gaugeConnections.Dec()
		}
	}
	r.mu.Unlock()

	if len(entries) > 0 {
		logger.Debug("注销拥有者条目", "count", len(entries))
	}
}

// removeOwner 从条目切片中移除指定拥有者的条目
func removeOwner(entries []Entry, owner interfaces.Owner) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.Owner != owner {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FindListening 按 (租户, 协议, 地址族) 查找监听端点
func (r *Registry) FindListening(tenant types.Tenant, proto types.Protocol, family types.Family) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEntries(r.listening[listenKey{tenant: tenant, proto: proto, family: family}])
}

// FindConnected 按精确连接键查找已连接端点
//
// 结果顺序不作保证；同一键下可能存在多条连接。
func (r *Registry) FindConnected(tenant types.Tenant, proto types.Protocol, ip netip.Addr, port uint16, resource string) []Entry {
	k := connKey{tenant: tenant, key: types.ConnKey{Proto: proto, IP: ip.Unmap(), Port: port, Resource: resource}}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEntries(r.connected[k])
}

// ListListeners 返回租户的全部监听端点
func (r *Registry) ListListeners(tenant types.Tenant) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for k, entries := range r.listening {
		if k.tenant == tenant {
			out = append(out, entries...)
		}
	}
	return out
}

// ListConnections 返回租户的全部已连接端点
func (r *Registry) ListConnections(tenant types.Tenant) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for k, entries := range r.connected {
		if k.tenant == tenant {
			out = append(out, entries...)
		}
	}
	return out
}

// All 返回租户的全部条目（监听器 + 连接）
func (r *Registry) All(tenant types.Tenant) []Entry {
	return append(r.ListListeners(tenant), r.ListConnections(tenant)...)
}

// AllListeners 跨租户枚举全部监听器
func (r *Registry) AllListeners() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, entries := range r.listening {
		out = append(out, entries...)
	}
	return out
}

// AllConnections 跨租户枚举全部存活连接（运维 / 诊断接口）
func (r *Registry) AllConnections() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, entries := range r.connected {
		out = append(out, entries...)
	}
	return out
}

// copyEntries 返回条目切片的副本
func copyEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
