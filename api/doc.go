// Package api 定义 SceneGen HTTP API 的请求与响应类型。
//
// 所有 /api/v1 端点返回统一的 handlers.Response 包装：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// # 端点
//
//	POST   /api/v1/workflows               提交运行，?async=true 时返回 202
//	GET    /api/v1/workflows               最近的运行，?limit=N
//	GET    /api/v1/workflows/{id}          运行报告
//	DELETE /api/v1/workflows/{id}          取消运行
//	GET    /api/v1/workflows/{id}/events   websocket 事件流
//	GET    /api/v1/presets                 预设列表
//	POST   /api/v1/presets                 注册自定义预设
//	GET    /api/v1/presets/{name}          预设详情
//	POST   /api/v1/optimize                参数预览
//	GET    /api/v1/services                生成后端状态
//	GET    /api/v1/services/image          出图服务模型与采样器
//	POST   /api/v1/images/enhance          img2img 重绘
//
// # Authentication
//
// 配置了 API key 时，/api/v1 下的端点需要 X-API-Key 头；
// 配置了 JWT 时也接受 Authorization: Bearer <token>。
package api
