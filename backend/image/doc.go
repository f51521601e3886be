/*
Package image 实现 Stable Diffusion WebUI（A1111 API）文生图适配器。

Client 提供同步出图（txt2img / img2img）、健康检查以及采样器、模型、
进度查询与中断等辅助接口。所有生成调用都经过 backend.Guard，
受并发上限、重试与熔断约束。

WatchProgress 按 image.progress_poll 轮询进度，工作流引擎据此发出
IMAGE_GENERATION 阶段的进度事件，运行取消时调用 Interrupt。
*/
package image
