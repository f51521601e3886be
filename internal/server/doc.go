/*
Package server 管理 scenegen HTTP 服务的生命周期。

Manager 封装 net/http.Server：Start/StartTLS 非阻塞启动，Wait 在
ctx 结束或服务异常退出后执行优雅关闭。OnShutdown 注册的钩子在
请求排空后按逆序执行，用于关闭工作流管理器与运行存储。
*/
package server
