// 版权所有 2024 SceneGen Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的流水线指标采集能力，覆盖
HTTP、工作流运行、阶段、生成后端与预设注册五个维度。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行总数（按 strategy/outcome/error_code）、运行耗时、
    在途运行数 Gauge、阶段结果计数与阶段耗时。
  - 后端指标：按 backend/operation 分组的请求计数与耗时，
    以及异步网格任务的轮询状态计数。
  - 预设指标：自定义预设注册结果计数。

Collector 同时满足 workflow.Recorder 与 backend.Recorder 接口，
由入口程序注入各组件。
*/
package metrics
