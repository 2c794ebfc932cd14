package transport

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// cachingResolver 解析结果 TTL 缓存
//
// 外部解析器通常要做 DNS 往返；候选列表在 TTL 内按
// (租户, URI) 复用。容量为 0 时退化为直通。
type cachingResolver struct {
	inner interfaces.Resolver
	cache *expirable.LRU[string, []types.AddrCandidate]
}

var _ interfaces.Resolver = (*cachingResolver)(nil)

// newCachingResolver 包装解析器
func newCachingResolver(inner interfaces.Resolver, size int, ttl time.Duration) interfaces.Resolver {
	if size <= 0 {
		return inner
	}
	return &cachingResolver{
		inner: inner,
		cache: expirable.NewLRU[string, []types.AddrCandidate](size, nil, ttl),
	}
}

// Resolve 解析目标，命中缓存时不触达内层解析器
func (r *cachingResolver) Resolve(ctx context.Context, tenant types.Tenant, uri string) ([]types.AddrCandidate, error) {
	key := string(tenant) + "|" + uri
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	resolved, err := r.inner.Resolve(ctx, tenant, uri)
	if err != nil {
		return nil, err
	}

	// 空结果不缓存：目标可能正在上线
	if len(resolved) > 0 {
		r.cache.Add(key, resolved)
	}
	return resolved, nil
}
