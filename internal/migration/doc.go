/*
Package migration 管理运行记录表 workflow_runs 的 Schema 版本，基于 golang-migrate。

迁移文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下，文件名形如
000001_create_workflow_runs.up.sql。NewMigratorFromDatabaseConfig 复用
internal/database 的连接方式（sqlite 为纯 Go 驱动），CLI 为 scenegen migrate
子命令提供 up/down/reset/steps/goto/force/version/status/info 输出。

GORM 模型与迁移文件的列必须保持一致，见 store.runRecord。
*/
package migration
