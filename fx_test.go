package siptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-siptransport/internal/core/registry"
	"github.com/dep2p/go-siptransport/internal/core/transport"
)

// TestDefaultModuleWiring 测试自足模块的依赖装配
func TestDefaultModuleWiring(t *testing.T) {
	var (
		layer *transport.Layer
		reg   *registry.Registry
	)

	app := fxtest.New(t,
		DefaultModule,
		fx.Populate(&layer, &reg),
	)
	app.RequireStart()

	require.NotNil(t, layer)
	require.NotNil(t, reg)
	assert.Same(t, reg, layer.Registry())

	// 全部六种驱动就位后监听照常工作
	l, err := layer.StartTransport(context.Background(), "a", ProtocolUDP, loopback, 0, ListenOptions{})
	require.NoError(t, err)
	assert.NotZero(t, l.Transport().LocalPort)

	app.RequireStop()

	// 生命周期钩子关闭传输层，注册表随之清空
	assert.Eventually(t, func() bool {
		return len(reg.All("a")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestModuleCustomHandler 测试使用方覆盖可选依赖
func TestModuleCustomHandler(t *testing.T) {
	inbox := make(chan []byte, 1)
	var layer *transport.Layer

	app := fxtest.New(t,
		DefaultModule,
		fx.Provide(func() MessageHandler {
			return func(_ Transport, payload []byte) { inbox <- payload }
		}),
		fx.Populate(&layer),
	)

	app.RequireStart()
	require.NotNil(t, layer)
	app.RequireStop()
}
