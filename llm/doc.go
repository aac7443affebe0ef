// Copyright 2025-2026 MnemosyneOS Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package llm 提供反思摘要层：把一批源记忆浓缩为结构化的反思文本。

反思调度器按窗口扫描源记忆层，把记录交给 [Summarizer]，得到的
反思块再作为 reflective 层记忆写回引擎。本包只关心"源记忆进、
反思文本出"这一步，窗口推进与落库由 memory 包负责。

# 核心接口

  - [Summarizer]：反思摘要接口，提供 Summarize / Name
  - [SummarizeRequest] / [SummarizeSource]：摘要请求与按时间升序的源记忆

返回值是原始文本：1 到 MaxBlocks 个反思块以 "---" 分隔，每块包含
REFLECTION: / EVIDENCE: / IMPLICATIONS: / TAGS: 小节，由调用方解析。

# 实现

  - [ExtractiveSummarizer]：离线抽取式摘要，词频打分选句，无外部依赖，
    是默认实现，也是远端摘要不可用时的兜底
  - [OpenAISummarizer]：通过 Chat Completions 接口生成摘要，
    凡暴露 /v1/chat/completions 的端点均可用（OpenAI、DeepSeek、Ollama）

[NewSummarizerFromConfig] 按配置选择实现：provider 为 "extractive"
或留空时走离线路径，"openai" 走远端路径并套用重试策略。

# 相关子包

- llm/retry：远端摘要请求的重试与退避策略。
*/
package llm
