// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package preset 管理命名的工作流预设。

# 概述

Registry 是显式构造、可注入的预设表，内置 fast / balanced / quality / creative
四个只读预设，并允许在进程生命周期内注册自定义预设。读写由 sync.RWMutex 保护，
Get 总是返回副本，模板不会因使用而被修改。

# 错误

  - Get 未找到：NOT_FOUND
  - Register 与内置预设同名：IMMUTABLE
  - Register 与已有自定义预设同名：DUPLICATE_NAME
  - 方法、质量或复杂度非法：VALIDATION_ERROR
*/
package preset
