// 版权所有 2025-2026 MnemosyneOS Authors. 保留所有权利。
// 此源代码的使用受项目 LICENSE 文件中的许可条款约束。

/*
包 migration 为记忆记录库提供版本化的 Schema 迁移，支持
PostgreSQL 与 MySQL，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 按方言内嵌 SQL 迁移文件（memory_records、
namespace_pins、reflection_marks 三张表），结合 golang-migrate
引擎实现正向迁移、回滚、按步执行、跳转与强制设版本号。
sqlite 与 mongo 记录库的 schema 在 recordstore 打开时自动建立，
不经过本包。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含数据库方言、连接 URL、迁移表名与锁超时。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，mnemo migrate 子命令的输出格式化。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
NewMigratorFromURL 支持从应用配置或裸连接串创建迁移器；
ParseDatabaseType 解析方言字符串，BuildDatabaseURL 按方言拼接
连接 URL。
*/
package migration
