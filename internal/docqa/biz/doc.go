// Package biz 提供 docqa 服务的业务逻辑层。
//
// 组件按依赖顺序：
//   - Indexer: 读取文档、分块、嵌入并写入会话标记的向量索引
//   - Retriever: 在指定会话内检索相关文档块
//   - Memory: 维护对话记录，超过阈值时压缩为摘要
//   - Generator: 基于检索上下文和对话记录生成回答
//   - Guard: 拦截提示词注入和系统信息泄露
//   - SessionManager: 会话的准入、配额、过期和清理
//   - DocQAService: 组合以上组件，供传输层调用
package biz
