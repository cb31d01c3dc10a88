package errors

import "google.golang.org/grpc/codes"

// docqa 服务代码: 21 (业务服务范围 20-79)
// 错误码格式: AABBCCC

var (
	// 请求参数错误 (类别 01)
	ErrInvalidSessionID = Register(New(MakeCode(ServiceDocQA, CategoryRequest, 1), 400, codes.InvalidArgument, "Valid session_id is required", "session_id 无效"))
	ErrInvalidQuery     = Register(New(MakeCode(ServiceDocQA, CategoryRequest, 2), 400, codes.InvalidArgument, "Invalid query", "查询内容无效"))
	ErrInvalidFile      = Register(New(MakeCode(ServiceDocQA, CategoryRequest, 3), 400, codes.InvalidArgument, "Invalid file", "文件无效"))

	// 资源错误 (类别 04)
	ErrSessionNotFound = Register(New(MakeCode(ServiceDocQA, CategoryResource, 1), 404, codes.NotFound, "Session not found", "会话不存在"))

	// 配额错误 (类别 06)
	ErrQuotaExceeded = Register(New(MakeCode(ServiceDocQA, CategoryRateLimit, 1), 429, codes.ResourceExhausted, "Session message limit reached. Please start a new session.", "会话消息数已达上限"))

	// 处理错误 (类别 07)
	ErrContentExtraction = Register(New(MakeCode(ServiceDocQA, CategoryInternal, 1), 500, codes.Internal, "PDF appears to be empty or unreadable", "无法从文档中提取内容"))
	ErrIndexFailed       = Register(New(MakeCode(ServiceDocQA, CategoryInternal, 2), 500, codes.Internal, "Document indexing failed", "文档索引失败"))
	ErrSummarization     = Register(New(MakeCode(ServiceDocQA, CategoryInternal, 3), 500, codes.Internal, "Conversation summarization failed", "会话摘要失败"))
	ErrCleanupFailed     = Register(New(MakeCode(ServiceDocQA, CategoryInternal, 4), 500, codes.Internal, "Failed to cleanup session", "会话清理失败"))
	ErrStatsUnavailable  = Register(New(MakeCode(ServiceDocQA, CategoryInternal, 5), 500, codes.Internal, "Failed to get stats", "统计信息不可用"))

	// 存储错误 (类别 08)
	ErrBlobUpload = Register(New(MakeCode(ServiceDocQA, CategoryStorage, 1), 500, codes.Internal, "Failed to store uploaded file", "文件存储失败"))
	ErrBlobFetch  = Register(New(MakeCode(ServiceDocQA, CategoryStorage, 2), 500, codes.Internal, "Failed to fetch stored file", "文件读取失败"))

	// 上游服务错误 (类别 10)
	ErrUpstream = Register(New(MakeCode(ServiceDocQA, CategoryNetwork, 1), 500, codes.Unavailable, "Upstream service error", "上游服务错误"))
)
