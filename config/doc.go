// Package config 提供 SceneGen 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，
// 覆盖 HTTP 服务、三个生成后端、工作流引擎、运行存储、日志与遥测。
package config
