// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package vectorstore 提供记忆向量的统一存储接口与多后端实现。

所有后端共享同一契约：按命名空间隔离、按 id 幂等写入、余弦相似度检索、
未知 id 删除为空操作。行为差异永远不穿透接口；后端传输或可用性故障
一律映射为 BACKEND_UNAVAILABLE。

# 核心接口/类型

  - Store — 向量存储统一接口（Upsert / Query / Delete / Count）
  - Point — 写入单元：记录 id、float32 向量、记忆层、创建时间、内容哈希
  - Hit — 检索命中：id、余弦相似度得分、记忆层、创建时间
  - Filter — 检索过滤器（按记忆层，空值表示全部）

# 后端

  - memory — 进程内 RWMutex 存储，开发与测试默认后端
  - chromem — 嵌入式持久化索引（philippgille/chromem-go），每命名空间一个集合
  - qdrant — 远程 REST 后端，集合按命名空间加前缀，UUIDv5 点 id
  - pgvector — PostgreSQL + vector 扩展（pgx/v5 + pgvector-go），按维度分表

工厂函数 NewStoreFromConfig 根据全局配置选择后端，后端类型只在启动时
决定一次，运行期不做类型探测。
*/
package vectorstore
