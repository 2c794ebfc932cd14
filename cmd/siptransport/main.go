// Package main 提供 siptransport 命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-siptransport"
	"github.com/dep2p/go-siptransport/config"
	"github.com/dep2p/go-siptransport/pkg/lib/log"
)

var logger = log.Logger("siptransport/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 命令行参数负责运行时覆盖 / 快速测试；持久化配置放 JSON 配置文件。
var (
	configFile = flag.String("config", "", "配置文件路径")
	tenant     = flag.String("tenant", "default", "监听器所属租户")
	listens    = flag.String("listen", "udp/0.0.0.0:5060",
		"监听端点列表，逗号分隔，格式 proto/ip:port（如 udp/0.0.0.0:5060,tcp/0.0.0.0:5060）")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标端点地址（空 = 不开启）")
	logLevel    = flag.String("log-level", "", "日志级别覆盖 (debug/info/warn/error)")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(siptransport.VersionInfo())
		return nil
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("启动 siptransport", "version", siptransport.Version,
		"commit", siptransport.GitCommit, "buildDate", siptransport.BuildDate)

	stack, err := siptransport.New(opts...)
	if err != nil {
		return fmt.Errorf("创建传输栈失败: %w", err)
	}
	defer func() { _ = stack.Close() }()

	if err := startListeners(ctx, stack); err != nil {
		return err
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	fmt.Println("传输栈已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭...")
	return nil
}

// buildOptions 构建选项
//
// 配置优先级（从高到低）：命令行参数 > 配置文件 > 默认值。
func buildOptions() ([]siptransport.Option, error) {
	var opts []siptransport.Option

	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.FromFile(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	opts = append(opts, siptransport.WithConfig(cfg))

	// 守护模式下默认处理器只记录入站流量
	opts = append(opts, siptransport.WithHandler(func(tr siptransport.Transport, msg []byte) {
		logger.Info("入站消息", "transport", tr.String(), "bytes", len(msg))
	}))

	return opts, nil
}

// startListeners 解析 -listen 并启动监听器
func startListeners(ctx context.Context, stack *siptransport.Stack) error {
	for _, spec := range strings.Split(*listens, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		proto, ip, port, err := parseListenSpec(spec)
		if err != nil {
			return err
		}

		lst, err := stack.Listen(ctx, siptransport.Tenant(*tenant), proto, ip, port, siptransport.ListenOptions{})
		if err != nil {
			return fmt.Errorf("启动监听器 %s 失败: %w", spec, err)
		}
		fmt.Printf("监听 %s\n", lst.Transport().String())
	}
	return nil
}

// parseListenSpec 解析 proto/ip:port 形式的监听端点
func parseListenSpec(spec string) (siptransport.Protocol, netip.Addr, uint16, error) {
	protoStr, addrStr, ok := strings.Cut(spec, "/")
	if !ok {
		return siptransport.ProtocolUnknown, netip.Addr{}, 0, fmt.Errorf("无效的监听端点 %q，期望 proto/ip:port", spec)
	}

	proto := siptransport.ParseProtocol(protoStr)
	if proto == siptransport.ProtocolUnknown {
		return proto, netip.Addr{}, 0, fmt.Errorf("未知协议 %q", protoStr)
	}

	ap, err := netip.ParseAddrPort(addrStr)
	if err != nil {
		return siptransport.ProtocolUnknown, netip.Addr{}, 0, fmt.Errorf("无效的监听地址 %q: %w", addrStr, err)
	}
	return proto, ap.Addr(), ap.Port(), nil
}

// serveMetrics 暴露 Prometheus 指标端点
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("指标端点已开启", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("指标端点退出", "error", err)
	}
}

// waitForSignal 阻塞等待退出信号
func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
