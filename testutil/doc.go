/*
Package testutil 提供 SceneGen 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup
  - 错误断言: AssertErrorCode / AssertBackendError
  - 异步等待: AssertEventuallyTrue 轮询条件，WaitForChannel 带超时接收

# 子包

  - testutil/mocks: 三个外部服务的进程内替身。SDWebUI 与 Hunyuan3D
    基于 httptest，Blender 是一个本地 TCP JSON 服务，均支持错误注入
    与调用记录

# 使用示例

	sd := mocks.NewSDWebUI()
	defer sd.Close()
	cfg.Image.BaseURL = sd.URL()
*/
package testutil
