// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package types 提供 SceneGen 流水线的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 backend、optimizer、preset、
workflow、api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Backend、Stage 标记
  - Artifact: 后端产出的图像 / 网格 / 场景对象引用
  - ServiceStatus: 后端健康检查结果（可达性 + 能力列表）
  - Method / Quality / Complexity: 生成策略与质量档位枚举

# 主要能力

  - 错误工具链：AsError / IsCode / IsRetryable / GetErrorCode
  - 错误码到 HTTP 状态码的统一映射：HTTPStatusFor
*/
package types
