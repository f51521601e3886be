/*
Package mesh 实现 Hunyuan3D 图生 3D 适配器与异步任务轮询。

同步路径调用 /generate 直接拿到 GLB；异步路径通过 Submit（/send）
创建任务，再由 Poller 按指数退避轮询 /status/{uid}，完成后下载
/download/{uid} 或解码内联的 model_base64。

Poller 的等待时长以 Deadline 为界：每次休眠都被截断到 Deadline，
到点后再轮询一次，仍未完成则返回 TIMEOUT；ctx 取消返回 CANCELLED。
*/
package mesh
