// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package types 提供 MnemosyneOS 记忆引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 memory、embedding、
vectorstore、recordstore、api 等上层模块提供统一的类型契约。所有跨包共享的
结构体、枚举和错误码均定义于此，以避免循环依赖。

# 核心类型

  - MemoryLayer：七层记忆分类（episodic / semantic / procedural /
    reflective / affective / identity / meta）
  - MemoryRecord：记忆条目（id、namespace、layer、text、content_hash、
    source、metadata、created_at）
  - NamespacePin：命名空间锁定的嵌入身份（provider_id + dimension）
  - ReflectionRun：单次反思任务的状态记录（Idle / Running / Failed）
  - MemoryStats：命名空间内可见记录的统计摘要
  - Event / EventType：引擎事件（创建、去重、删除、反思完成）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 约定

  - 嵌入向量只存在于向量索引中，MemoryRecord 序列化时按需省略 Embedding。
  - NOT_FOUND 与 AlreadyRunning 属于正常结果变体，核心路径不将其作为 error
    返回；ErrNotFound 仅用于 HTTP 响应封装。
  - 错误工具链：IsRetryable / GetErrorCode / IsErrorCode 沿 Unwrap 链提取。
*/
package types
