// Package siptransport 提供多协议信令传输层
//
// siptransport 在统一的寻址、连接复用与投递模型之后抽象
// UDP/TCP/TLS/SCTP/WS/WSS 六种传输，面向 SIP 一类的信令栈：
// 上层交给它一个目标（URI 或地址候选列表）和一个按所选传输
// 渲染消息的函数，传输层负责找到或建立合适的连接并投递，
// 失败时透明地尝试后续候选。
//
// # 核心概念
//
//   - Stack: 传输栈，用户交互的主入口
//   - Tenant: 租户，监听器与连接的逻辑隔离域
//   - Candidate: 发送候选（符号目标 / 具体地址 / 连接复用 / 强制流）
//   - Driver: 协议驱动，每种传输协议一个
//
// # 快速开始
//
//	import "github.com/dep2p/go-siptransport"
//
//	// 1. 创建传输栈
//	stack, err := siptransport.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stack.Close()
//
//	// 2. 启动监听器
//	_, err = stack.Listen(ctx, "core", siptransport.ProtocolUDP,
//	    netip.MustParseAddr("0.0.0.0"), 5060, siptransport.ListenOptions{
//	        Handler: func(tr siptransport.Transport, msg []byte) {
//	            // 入站消息
//	        },
//	    })
//
//	// 3. 发送：逐候选回退
//	msg, err := stack.Send(ctx, "core", []siptransport.Candidate{
//	    siptransport.DestCandidate{URI: "sip:10.0.0.2:5060"},
//	}, render, siptransport.SendOptions{})
//
// # 文件组织
//
//	siptransport/
//	├── doc.go             # 包文档
//	├── siptransport.go    # 版本信息、类型别名
//	├── stack.go           # Stack 结构、New()、门面方法
//	├── options.go         # WithXxx 配置选项
//	├── fx.go              # Fx 模块组装
//	│
//	├── config/            # 配置（JSON 加载 / 校验）
//	├── pkg/
//	│   ├── types/         # 协议、传输记录、候选类型
//	│   ├── interfaces/    # 驱动 / 监听器 / 连接 / 解析器接口
//	│   ├── resolver/      # 静态解析器与 URI 字面量解析
//	│   └── lib/log/       # 统一日志
//	└── internal/core/
//	    ├── registry/      # 进程级传输注册表
//	    ├── netaddr/       # 本机地址集合
//	    └── transport/     # 传输层核心与各协议驱动
//	        ├── udp/ tcp/ ws/ sctp/
//	        └── ...
package siptransport
