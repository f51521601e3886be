/*
Package scene 实现场景宿主（Blender 插件 socket）适配器。

协议为 TCP 上的 JSON：请求 {"type": cmd, "params": {...}}，
响应 {"status": "success"|"error", "result": {...}, "message": "..."}。
result 中带 error 字段同样视为失败。

Assembler 在一条连接上依次执行 get_scene_info、import_hunyuan3d_model
{model_data, name}，然后通过 execute_code {code} 下发 bpy 脚本：
有参考图像时先绑定贴图材质，再居中对象并补灯光与相机。
场景中没有灯光且未指定灯光预设时补一组默认灯光，没有相机时补一个默认相机。
*/
package scene
