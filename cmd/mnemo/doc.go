// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 MnemosyneOS 服务端程序入口。

# 概述

cmd/mnemo 是 MnemosyneOS 记忆服务的可执行入口，提供 HTTP API、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集、OpenTelemetry 追踪以及
配置热重载。

# 核心类型

  - Server     — 主服务器，组装记忆引擎、挂载路由并管理优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 记忆引擎组装：记录库 → 向量库 → 嵌入提供者（可选 Redis 缓存）→
    摘要器 → memory.Service
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、RateLimiter（基于 IP）、鉴权（none / api_key / bearer）
  - 配置热重载：HotReloadManager 监听文件变更，/v1/config 管理端点
  - /metrics 暴露 Prometheus 指标，/v1/events 升级为 WebSocket 事件流
  - 优雅关闭：信号监听 → 停止热更新 → 关闭 HTTP → 关闭引擎与存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
