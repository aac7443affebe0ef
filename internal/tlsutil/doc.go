// Package tlsutil 提供集中式 TLS 配置（TLS 1.2+，仅 AEAD 密码套件），
// 嵌入提供者、LLM 摘要器、Qdrant 客户端的出站连接与
// HTTP 服务器的 TLS 监听共用这一份加固设置。
package tlsutil
