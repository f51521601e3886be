// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package backend 提供生成类后端（文生图、图生 3D、场景宿主）共用的调用约束。

# 概述

每个后端适配器都通过 Guard 发起调用。Guard 负责：

  - 并发上限：semaphore.Weighted，Acquire 遵循 ctx
  - 有界重试：internal/retry，仅重试可重试错误
  - 熔断：internal/circuitbreaker，后端连续不可用时快速失败
  - 观测：每次调用记录一条 Recorder 指标并创建 OTel span

HTTP 状态码与传输错误统一映射为 types.Error：传输失败与 5xx 为
SERVICE_UNAVAILABLE，4xx 或错误响应体为 GENERATION_FAILED。
*/
package backend
