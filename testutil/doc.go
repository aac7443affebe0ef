// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package testutil 提供 MnemosyneOS 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试与集成测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。包外测试（HTTP 处理器、
命令行入口）应优先使用此包组装真实组件栈，而不是自行模拟
记忆引擎。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 通道辅助: WaitForChannel / WaitForEvent，带超时地等待
    通道值或指定类型的记忆事件
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造
  - 记忆栈工厂: NewMemoryStack，组装真实组件栈
    （本地哈希嵌入、内存向量库、sqlite 记录库）并自动清理

# 使用示例

	stack := testutil.NewMemoryStack(t)
	ctx := testutil.TestContext(t)
	res, err := stack.Service.Ingest(ctx, memory.IngestRequest{
		Namespace: "agents",
		Text:      "the capital of France is Paris",
	})
*/
package testutil
