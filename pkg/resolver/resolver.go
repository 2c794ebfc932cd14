// Package resolver 提供目标解析器实现
//
// 解析器把符号目标（URI）展开为按优先级排序的地址候选列表。
// Static 适合测试和静态编排的部署：先查显式注册的表项，
// 未命中时回退到 URI 字面量解析（仅接受 IP 字面量主机）。
package resolver

import (
	"context"
	"sync"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// 表项键
type tableKey struct {
	tenant types.Tenant
	uri    string
}

// Static 静态目标解析器
type Static struct {
	mu    sync.RWMutex
	table map[tableKey][]types.AddrCandidate
}

var _ interfaces.Resolver = (*Static)(nil)

// NewStatic 创建静态解析器
func NewStatic() *Static {
	return &Static{table: make(map[tableKey][]types.AddrCandidate)}
}

// Add 为租户注册一个目标的候选列表
//
// 候选顺序即尝试顺序；重复注册覆盖旧值。
func (s *Static) Add(tenant types.Tenant, uri string, candidates ...types.AddrCandidate) {
	s.mu.Lock()
	s.table[tableKey{tenant: tenant, uri: uri}] = append([]types.AddrCandidate(nil), candidates...)
	s.mu.Unlock()
}

// Remove 移除一个目标的注册
func (s *Static) Remove(tenant types.Tenant, uri string) {
	s.mu.Lock()
	delete(s.table, tableKey{tenant: tenant, uri: uri})
	s.mu.Unlock()
}

// Resolve 展开符号目标
//
// 表项命中返回副本；未命中时按 URI 字面量解析。
func (s *Static) Resolve(_ context.Context, tenant types.Tenant, uri string) ([]types.AddrCandidate, error) {
	s.mu.RLock()
	entry, ok := s.table[tableKey{tenant: tenant, uri: uri}]
	s.mu.RUnlock()

	if ok {
		out := make([]types.AddrCandidate, len(entry))
		copy(out, entry)
		return out, nil
	}
	c, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return []types.AddrCandidate{c}, nil
}
