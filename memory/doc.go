// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package memory 是记忆引擎的核心：写入流水线、相似度检索、
后台反思调度与事件流都在这里汇合。

写入流水线对文本做归一化去重、超限切块、层归类、嵌入与双写
（先记录库后向量库）；检索先嵌入查询，再过量拉取候选、过滤、
与记录库联接还原全文。每个命名空间在首次写入时锁定嵌入身份
（提供者 + 维度），此后任何不一致的写入与检索都以维度冲突拒绝。

# 核心类型

  - Service — 引擎门面：Ingest / Search / Delete / TriggerReflection /
    Stats / Subscribe / Close
  - IngestRequest / IngestResult — 写入请求与结果（含去重命中）
  - SearchRequest / SearchHit — 检索请求与带分命中
  - FeedItem — RSS/Atom 源条目的写入边界
  - Chunker — 递归切块器（tiktoken 计数，分隔符优先级：段落 > 行 > 句子）
  - Broadcaster — 有界非阻塞事件广播器，慢订阅者丢弃

# 并发模型

写入与检索经由有界工作池提交，引擎并发独立于 HTTP 层；
去重检查与首写之间由按 (namespace, content_hash) 的键锁保护；
反思每命名空间互斥，永不占用请求工作池。
*/
package memory
