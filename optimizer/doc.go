/*
Package optimizer 根据优化目标与硬件档位生成经过校验的图像 / 网格参数集。

# 概述

Optimize 从 goal 的基础表出发，按图像质量、模型质量与场景复杂度做单调调整，
再按硬件档位收紧上限，最后把每个字段钳制到后端的安全范围内。
相同输入总是得到相同输出。

Validate 对调用方覆盖的参数执行同样的钳制策略；未知采样器无法钳制，返回
VALIDATION_ERROR。Estimate 估算出图耗时，Refine 根据实际耗时给出降本建议。
*/
package optimizer
