// Copyright (c) MnemosyneOS Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MnemosyneOS HTTP API 的请求处理器实现。

# 概述

handlers 包实现了记忆服务所有 HTTP 端点的请求处理逻辑，
包括记忆写入、相似度检索、记录读写、反思触发、统计查询、
事件流推送以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - MemoryHandler    — 记忆写入（POST /v1/memories）、记录读取与删除
  - SearchHandler    — 相似度检索（POST /v1/search）
  - ReflectHandler   — 反思触发与状态查询（/v1/reflect）
  - StatsHandler     — 命名空间统计与引擎运行时统计（GET /v1/stats）
  - EventsHandler    — 引擎事件的 WebSocket 推送（GET /v1/events）
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck      — 可插拔健康检查接口（引擎、数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数，
    信封为 api.Response，请求 id 自动从上下文带入
  - 请求验证：DecodeJSONBody（严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 服务错误透传：HandleServiceError 保留 types.Error 的状态码与重试标记
  - WebSocket 事件流：EventsHandler 按连接独立订阅，慢连接丢事件不阻塞
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
