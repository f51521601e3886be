// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package main 提供 SceneGen 的命令行与服务端入口。

# 子命令

  - serve:    启动 HTTP API 与独立的 Prometheus metrics 端口
  - run:      在终端执行一次 text→image→3D→scene 工作流并输出 JSON 报告
  - presets:  列出内置与自定义预设
  - migrate:  管理运行报告表的数据库迁移
  - health:   探测运行中服务的 /health 或 /ready
  - version:  打印构建信息

# 中间件链

请求依次经过 Recovery、RequestID、OTelTracing、MetricsMiddleware、
SecurityHeaders、RequestLogger、CORS、RateLimiter 与 Authenticate。
所有中间件共用同一个 handlers.ResponseWriter，websocket 升级可以 Hijack。

认证同时接受 X-API-Key 与 HS256 JWT Bearer token，两者都未配置时关闭。

# 关闭顺序

收到 SIGINT/SIGTERM 后先停止 HTTP 服务，再停止后台清理任务，
然后关闭运行管理器与存储，最后刷新遥测数据。

Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
