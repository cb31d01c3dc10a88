// Package store 提供 docqa 服务的存储层。
//
// VectorStore 保存按会话标记的文档块，检索时强制按 session_id 过滤；
// SessionStore 保存进程内的会话状态，并按最后访问时间维护过期索引。
package store
