package registry

import (
	"go.uber.org/fx"
)

// Module 注册表 fx 模块
var Module = fx.Module("registry",
	fx.Provide(New),
)
