package httptransport

import (
	"tempcode/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrDomainNotAllowed: "域名不在允许列表中",
	service.ErrMailboxNotFound:  "邮箱不存在",
	service.ErrProvisionFailed:  "远程开通邮箱失败",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest  = "请求参数格式错误"
	MsgInvalidDuration = "时长格式无效"

	// 认证相关
	MsgTokenRequired = "缺少邮箱访问令牌"
	MsgTokenInvalid  = "无效的邮箱访问令牌"

	// 邮箱相关
	MsgMailboxCreateFailed  = "创建邮箱失败"
	MsgMailboxNotFound      = "邮箱不存在"
	MsgMailboxDeleteFailed  = "删除邮箱失败"
	MsgMailboxQuotaExceeded = "邮箱服务器配额不足"

	// 验证码相关
	MsgCodeGetFailed          = "获取验证码失败"
	MsgVerificationListFailed = "获取验证码记录失败"
	MsgMarkReadFailed         = "标记已读失败"
	MsgRecordNotFound         = "验证码记录不存在"

	// 统计相关
	MsgStatsGetFailed = "获取统计数据失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
