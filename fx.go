package siptransport

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/internal/core/transport"
	"github.com/dep2p/go-siptransport/internal/core/transport/sctp"
	"github.com/dep2p/go-siptransport/internal/core/transport/tcp"
	"github.com/dep2p/go-siptransport/internal/core/transport/udp"
	"github.com/dep2p/go-siptransport/internal/core/transport/ws"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
	"github.com/dep2p/go-siptransport/pkg/resolver"
	"github.com/dep2p/go-siptransport/pkg/types"
)

// Module 传输栈 Fx 模块
//
// 面向把传输层嵌入更大 Fx 应用的使用方。组装顺序：
// 配置 → 注册表 → 协议驱动（group:"drivers"）→ 传输层核心。
// 使用方可另行提供 interfaces.Resolver / interfaces.MessageHandler
// 覆盖默认值，并追加自己的驱动到 drivers 组。
var Module = fx.Module("siptransport",
	registry.Module,
	transport.Module,
	fx.Provide(
		fx.Annotate(provideUDPDriver, fx.ResultTags(`group:"drivers"`)),
		fx.Annotate(provideTCPDriver, fx.ResultTags(`group:"drivers"`)),
		fx.Annotate(provideTLSDriver, fx.ResultTags(`group:"drivers"`)),
		fx.Annotate(provideSCTPDriver, fx.ResultTags(`group:"drivers"`)),
		fx.Annotate(provideWSDriver, fx.ResultTags(`group:"drivers"`)),
		fx.Annotate(provideWSSDriver, fx.ResultTags(`group:"drivers"`)),
	),
	fx.Invoke(registerLifecycle),
)

// DefaultModule 带默认配置与静态解析器的自足模块
//
// 适合独立运行的应用；嵌入已有 Fx 应用时使用 Module 并自行
// 提供 *config.Config。
var DefaultModule = fx.Options(
	fx.Provide(
		config.NewConfig,
		fx.Annotate(provideStaticResolver, fx.As(new(interfaces.Resolver))),
	),
	Module,
)

func provideUDPDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return udp.NewDriver(cfg, reg)
}

func provideTCPDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return tcp.NewDriver(types.ProtocolTCP, cfg, reg)
}

func provideTLSDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return tcp.NewDriver(types.ProtocolTLS, cfg, reg)
}

func provideSCTPDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return sctp.NewDriver(cfg, reg)
}

func provideWSDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return ws.NewDriver(types.ProtocolWS, cfg, reg)
}

func provideWSSDriver(cfg *config.Config, reg *registry.Registry) interfaces.Driver {
	return ws.NewDriver(types.ProtocolWSS, cfg, reg)
}

func provideStaticResolver() *resolver.Static {
	return resolver.NewStatic()
}

// registerLifecycle 把传输层关闭挂到应用生命周期
func registerLifecycle(lc fx.Lifecycle, layer *transport.Layer) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return layer.Close()
		},
	})
}
