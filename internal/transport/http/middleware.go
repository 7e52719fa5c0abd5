package httptransport

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/service"
)

const mailboxTokenHeader = "X-Mailbox-Token"

// RequestLogger 记录每个请求的方法、路径、状态码与耗时
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Recovery 捕获处理器 panic 并返回统一错误响应
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				InternalError(c, MsgInternalError)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// MailboxAuth 邮箱令牌认证中间件
//
// 开通邮箱时返回的令牌是访问该邮箱数据的唯一凭证。
type MailboxAuth struct {
	verifications *service.VerificationService
}

// NewMailboxAuth 创建邮箱令牌认证中间件
func NewMailboxAuth(verifications *service.VerificationService) *MailboxAuth {
	return &MailboxAuth{verifications: verifications}
}

// RequireMailboxToken 校验请求头中的邮箱令牌并把邮箱实体放入上下文
func (a *MailboxAuth) RequireMailboxToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(mailboxTokenHeader)
		if token == "" {
			Unauthorized(c, MsgTokenRequired)
			c.Abort()
			return
		}

		mailbox, err := a.verifications.GetMailbox(c.Request.Context(), c.Param("address"))
		if errors.Is(err, service.ErrMailboxNotFound) {
			NotFound(c, MsgMailboxNotFound)
			c.Abort()
			return
		}
		if err != nil {
			InternalError(c, MsgInternalError)
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(mailbox.Token), []byte(token)) != 1 {
			Unauthorized(c, MsgTokenInvalid)
			c.Abort()
			return
		}

		c.Set("mailbox", mailbox)
		c.Next()
	}
}

// mailboxFromContext 取出认证中间件放入的邮箱实体
func mailboxFromContext(c *gin.Context) *domain.Mailbox {
	value, _ := c.Get("mailbox")
	mailbox, _ := value.(*domain.Mailbox)
	return mailbox
}
