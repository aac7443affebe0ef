// 版权所有 2025 MnemosyneOS Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查与
统计信息采集。记录库（recordstore）的 GORM 后端在构造时把底层
连接池托管到这里。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、GetStats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：结构化的连接池运行统计，/health 输出用。

# 主要能力

  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制；
    sqlite :memory: 场景把 MaxOpenConns 限到 1 保证库存续。
  - 健康检查：后台定时 PingContext 探活，输出连接数与空闲数，
    Close 后立即停止。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
