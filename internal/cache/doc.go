/*
包 cache 封装运行存储使用的 Redis 客户端。

Manager 负责连接生命周期（建立时 Ping 校验、Close 可重复调用），提供
GetJSON/MGetJSON/SetJSON/Delete 等 JSON 读写，以及基于有序集合的索引操作
IndexAdd/IndexNewest/IndexRemove/IndexTrimBefore，供按时间倒序列出运行。

键不存在时返回 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache
