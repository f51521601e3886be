// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package store 提供工作流运行报告的持久化实现。

三种后端共享 Store 接口：

  - MemoryStore：进程内 map，按 MaxRuns 淘汰最早写入的报告
  - RedisStore：JSON 值加按开始时间排序的 sorted-set 索引
  - SQLStore：GORM 管理的 workflow_runs 表，支持 postgres、mysql、sqlite

报告的 TTL 从 FinishedAt 开始计算，运行中的快照不会过期。
*/
package store
