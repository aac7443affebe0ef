// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package recordstore 提供记忆记录的持久化存储接口与多后端实现。

记录存储保存记忆的正文、元数据、内容哈希、来源与时间戳，但不保存
嵌入向量（向量只存在于 vectorstore，按记录 id 联结）。除记录本身外，
本包还持久化两类引擎状态：

  - 命名空间钉（NamespacePin）：首次写入时固定的嵌入身份，之后所有
    写入与检索都必须匹配；
  - 反思高水位（ReflectionMark）：反思调度器的增量扫描起点，只在一次
    反思完整成功后推进。

# 核心接口/类型

  - Store：统一契约（Insert / FindByDedupKey / Get / GetMany / Delete /
    Tombstone / ListSince / Stats / Namespaces / 钉与高水位读写）
  - GormStore：GORM 实现，驱动可选 sqlite（glebarez 纯 Go）、postgres、mysql
  - MongoStore：MongoDB 实现（mongo-driver/v2）

# 后端

后端由配置在启动时选定（NewStoreFromConfig），运行期不做类型探测。
删除是硬删除；回滚路径无法硬删除时落墓碑（tombstoned_at），墓碑行对
去重、检索联查、统计和 Get 一律不可见。
*/
package recordstore
