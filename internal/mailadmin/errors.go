package mailadmin

import (
	"errors"
)

var (
	// ErrRemoteUnavailable 远程控制面暂时不可用（网络错误或 5xx），可重试
	ErrRemoteUnavailable = errors.New("mail admin api unavailable")

	// ErrQuotaExceeded 远程配额已满，不可重试，直接上抛给调用方
	ErrQuotaExceeded = errors.New("mail admin api quota exceeded")

	// ErrNotFound 目标资源在远程不存在
	ErrNotFound = errors.New("mail admin api resource not found")

	// ErrTransientFetch 单封邮件拉取失败，留待下个扫描周期重试
	ErrTransientFetch = errors.New("transient message fetch failure")
)
