package transport

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/jbenet/goprocess"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// ============================================================================
//                              测试替身
// ============================================================================

// fakeConn 测试用连接：记录投递的消息
type fakeConn struct {
	proc    goprocess.Process
	tr      types.Transport
	sendErr error

	mu   sync.Mutex
	sent [][]byte
}

var _ interfaces.Connection = (*fakeConn)(nil)

func newFakeConn(tr types.Transport, sendErr error) *fakeConn {
	return &fakeConn{
		proc:    goprocess.WithParent(goprocess.Background()),
		tr:      tr,
		sendErr: sendErr,
	}
}

func (c *fakeConn) Process() goprocess.Process { return c.proc }
func (c *fakeConn) Transport() types.Transport { return c.tr }
func (c *fakeConn) Close() error               { return c.proc.Close() }

func (c *fakeConn) Send(payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, payload)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fakeListener 测试用监听器：Connect 生成 fakeConn 并注册
type fakeListener struct {
	proc   goprocess.Process
	tr     types.Transport
	tenant types.Tenant
	reg    *registry.Registry

	connectErr   error
	connectDelay time.Duration
	connPanic    bool
	connSendErr  error

	mu     sync.Mutex
	dialed []netip.AddrPort
}

var _ interfaces.Listener = (*fakeListener)(nil)

func (l *fakeListener) Process() goprocess.Process { return l.proc }
func (l *fakeListener) Transport() types.Transport { return l.tr }
func (l *fakeListener) Close() error               { return l.proc.Close() }

func (l *fakeListener) Connect(ctx context.Context, ip netip.Addr, port uint16, opts interfaces.ConnectOptions) (interfaces.Connection, error) {
	if l.connPanic {
		panic("listener blew up")
	}
	if l.connectDelay > 0 {
		select {
		case <-time.After(l.connectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.connectErr != nil {
		return nil, l.connectErr
	}

	l.mu.Lock()
	l.dialed = append(l.dialed, netip.AddrPortFrom(ip, port))
	l.mu.Unlock()

	tr := l.tr
	tr.RemoteIP = ip.Unmap()
	tr.RemotePort = port
	tr.Resource = opts.Resource

	conn := newFakeConn(tr, l.connSendErr)
	l.reg.RegisterConnection(l.tenant, tr, conn)
	return conn, nil
}

func (l *fakeListener) dialCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dialed)
}

// fakeDriver 测试用驱动
type fakeDriver struct {
	proto types.Protocol
	reg   *registry.Registry

	connectErr   error
	connectDelay time.Duration
	connPanic    bool
	connSendErr  error

	mu        sync.Mutex
	listeners []*fakeListener
}

var _ interfaces.Driver = (*fakeDriver)(nil)

func (d *fakeDriver) Proto() types.Protocol { return d.proto }

func (d *fakeDriver) Listen(_ context.Context, tenant types.Tenant, ip netip.Addr, port uint16, opts interfaces.ListenOptions) (interfaces.Listener, error) {
	tr := types.Transport{
		Proto:      d.proto,
		LocalIP:    ip,
		LocalPort:  port,
		ListenIP:   ip,
		ListenPort: port,
		Resource:   opts.Resource,
	}
	l := &fakeListener{
		proc:         goprocess.WithParent(goprocess.Background()),
		tr:           tr,
		tenant:       tenant,
		reg:          d.reg,
		connectErr:   d.connectErr,
		connectDelay: d.connectDelay,
		connPanic:    d.connPanic,
		connSendErr:  d.connSendErr,
	}
	d.reg.RegisterListener(tenant, tr, l)

	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
	return l, nil
}

// fakeResolver 测试用解析器：静态表 + 调用计数
type fakeResolver struct {
	mu      sync.Mutex
	table   map[string][]types.AddrCandidate
	err     error
	resolve int
}

var _ interfaces.Resolver = (*fakeResolver)(nil)

func (r *fakeResolver) Resolve(_ context.Context, _ types.Tenant, uri string) ([]types.AddrCandidate, error) {
	r.mu.Lock()
	r.resolve++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.table[uri], nil
}

func (r *fakeResolver) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve
}

// ============================================================================
//                              组装辅助
// ============================================================================

// 异步清理的轮询参数
const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)

// 测试用快速重试配置
func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Transport.LockRetryInterval = config.Duration(time.Millisecond)
	cfg.Transport.LockRetryLimit = 5
	cfg.Transport.DialTimeout = config.Duration(2 * time.Second)
	return cfg
}

// renderStatic 返回固定载荷的渲染函数
func renderStatic(payload string) interfaces.RenderFunc {
	return func(types.Transport) ([]byte, error) {
		return []byte(payload), nil
	}
}
