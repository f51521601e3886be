/*
包 database 打开 SQL 运行存储使用的 GORM 连接并管理其连接池。

# 概述

Open 按 database.driver 选择方言（postgres、mysql、sqlite），sqlite 使用
github.com/glebarez/sqlite 纯 Go 驱动且限制为单连接。PoolManager 负责连接池
参数、后台健康检查、关闭与事务重试。

# 核心类型

  - PoolManager：持有 *gorm.DB 与 *sql.DB，提供 DB/Ping/Stats/Close
  - PoolConfig：最大连接数、空闲回收与健康检查间隔
  - TransactionFunc：WithTransaction / WithTransactionRetry 的回调

死锁、序列化失败与 sqlite 锁冲突按指数退避重试，其余错误直接返回。
*/
package database
