// Copyright (c) SceneGen Authors.
// Licensed under the MIT License.

/*
Package workflow 实现文本到场景的阶段式编排引擎。

# 概述

一次运行按固定阶段表执行：

	INITIALIZATION → IMAGE_GENERATION → MODEL_GENERATION →
	SCENE_ASSEMBLY → OPTIMIZATION → FINALIZATION

终态为 SUCCEEDED 或 FAILED，取消表示为 FAILED + CANCELLED。每个阶段恰好
对应一个 StageResult，记录状态、产物、错误、警告与耗时。

# 核心类型

  - Select: 生成方式到阶段计划（Plan）的纯函数
  - Engine: 执行阶段表，HYBRID 下图像与模型分支并发并在装配前汇合
  - Run / Report: 运行的可变状态及其序列化视图
  - Manager: 同步执行或在 goroutine 池上排队执行，提供状态查询、取消与事件订阅
  - Store: 报告持久化接口，实现位于 store 包

# 策略

  - IMAGE_FIRST: 图像必须成功，作为模型的主输入
  - MODEL_FIRST: 无图像阶段，网格服务不支持 text_to_3d 时以 MISSING_INPUT 失败
  - HYBRID: 模型最多等待 hybrid_image_window，超时后按文本生成；
    图像失败只产生警告，迟到的图像作为纹理参考交给装配阶段

引擎只依赖注入的适配器接口（ImageGenerator、MeshGenerator、SceneAssembler）
与 PresetSource，可直接用测试替身驱动。
*/
package workflow
