package transport

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/pkg/interfaces"
)

// Params Layer 依赖参数
type Params struct {
	fx.In

	Cfg      *config.Config
	Registry *registry.Registry

	// 可选依赖
	Resolver interfaces.Resolver       `optional:"true"`
	Handler  interfaces.MessageHandler `optional:"true"`
	Drivers  []interfaces.Driver       `group:"drivers"`
}

// Module 传输层 fx 模块
var Module = fx.Module("transport",
	fx.Provide(provideLayer),
)

// provideLayer 从参数组装 Layer
func provideLayer(params Params) (*Layer, error) {
	opts := make([]Option, 0, len(params.Drivers)+2)
	if params.Resolver != nil {
		opts = append(opts, WithResolver(params.Resolver))
	}
	if params.Handler != nil {
		opts = append(opts, WithHandler(params.Handler))
	}
	for _, d := range params.Drivers {
		opts = append(opts, WithDriver(d))
	}
	return NewLayer(params.Cfg, params.Registry, opts...)
}
