// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 SceneGen HTTP API 的请求处理器。

# 核心类型

  - WorkflowHandler: 工作流提交、查询、取消与 websocket 事件流
  - PresetHandler: 预设列表、查询与自定义预设注册
  - OptimizeHandler: 参数预览，只计算参数集与耗时估算
  - ImageHandler: 出图服务模型与采样器查询，img2img 重绘
  - HealthHandler: /health、/healthz、/ready 与生成后端探测
  - Response / ErrorInfo: 统一 JSON 响应结构
  - ResponseWriter: 捕获状态码，保留 Flusher 与 Hijacker

# 错误映射

状态码由 types.ErrorCode 经 types.HTTPStatusFor 决定，
types.Error.HTTPStatus 记录的是后端返回的状态，不参与映射。
非 types.Error 一律返回 500 INTERNAL_ERROR，不暴露原始消息。

同步执行失败的运行仍返回完整报告，报告放在 data 中，
错误码放在 error 中。
*/
package handlers
