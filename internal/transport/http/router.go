package httptransport

import (
	"errors"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	lifecycle     *service.LifecycleService
	verifications *service.VerificationService
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config              *config.Config
	LifecycleService    *service.LifecycleService
	VerificationService *service.VerificationService
	LiveHandler         http.HandlerFunc // 存活探针
	ReadyHandler        http.HandlerFunc // 就绪探针
	Logger              *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(Recovery(deps.Logger))
	router.Use(RequestLogger(deps.Logger))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", mailboxTokenHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		lifecycle:     deps.LifecycleService,
		verifications: deps.VerificationService,
	}
	mailboxAuth := NewMailboxAuth(deps.VerificationService)

	// 探针与监控端点
	if deps.LiveHandler != nil {
		router.GET("/healthz", gin.WrapF(deps.LiveHandler))
	}
	if deps.ReadyHandler != nil {
		router.GET("/readyz", gin.WrapF(deps.ReadyHandler))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// 开通邮箱与全局统计无需令牌
		api.POST("/mailboxes", handler.createMailbox)
		api.GET("/stats", handler.getStats)

		// 邮箱数据端点需要开通时返回的令牌
		mailboxRoutes := api.Group("/mailboxes/:address")
		mailboxRoutes.Use(mailboxAuth.RequireMailboxToken())
		{
			mailboxRoutes.GET("", handler.getMailbox)
			mailboxRoutes.GET("/code", handler.getLatestCode)
			mailboxRoutes.GET("/verifications", handler.listVerifications)
			mailboxRoutes.POST("/verifications/:id/read", handler.markVerificationRead)
			mailboxRoutes.DELETE("", handler.deleteMailbox)
		}
	}

	return router
}

type createMailboxRequest struct {
	Domain    string `json:"domain"`
	ExpiresIn string `json:"expiresIn"`
}

type mailboxResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	LocalPart string    `json:"localPart"`
	Domain    string    `json:"domain"`
	Token     string    `json:"token,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verificationResponse struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Sender      string    `json:"sender,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	ExtractedAt time.Time `json:"extractedAt"`
	IsRead      bool      `json:"isRead"`
}

type verificationListResponse struct {
	Items []verificationResponse `json:"items"`
	Count int                    `json:"count"`
}

// createMailbox 开通一个新的临时邮箱。
//
// 令牌只在本次响应中出现一次，调用方必须自行保存。
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	var ttl time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			BadRequest(c, MsgInvalidDuration)
			return
		}
		ttl = d
	}

	mailbox, err := h.lifecycle.Provision(c.Request.Context(), req.Domain, ttl)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDomainNotAllowed):
			BadRequest(c, GetErrorMessage(service.ErrDomainNotAllowed))
		case errors.Is(err, service.ErrProvisionFailed):
			ServiceUnavailable(c, GetErrorMessage(service.ErrProvisionFailed))
		default:
			InternalError(c, MsgMailboxCreateFailed)
		}
		return
	}

	Created(c, toMailboxResponse(mailbox, true))
}

// getMailbox 返回邮箱详情（不含令牌）。
func (h *Handler) getMailbox(c *gin.Context) {
	mailbox := mailboxFromContext(c)
	Success(c, toMailboxResponse(mailbox, false))
}

// getLatestCode 返回邮箱最近提取的验证码。
func (h *Handler) getLatestCode(c *gin.Context) {
	record, err := h.verifications.LatestCode(c.Request.Context(), c.Param("address"))
	if err != nil {
		InternalError(c, MsgCodeGetFailed)
		return
	}
	if record == nil {
		NotFound(c, MsgRecordNotFound)
		return
	}

	Success(c, gin.H{
		"address": record.MailboxAddress,
		"code":    record.Code,
	})
}

// listVerifications 返回邮箱的全部验证码记录。
func (h *Handler) listVerifications(c *gin.Context) {
	records, err := h.verifications.ListVerifications(c.Request.Context(), c.Param("address"))
	if err != nil {
		InternalError(c, MsgVerificationListFailed)
		return
	}

	items := make([]verificationResponse, 0, len(records))
	for i := range records {
		items = append(items, toVerificationResponse(&records[i]))
	}

	Success(c, verificationListResponse{
		Items: items,
		Count: len(items),
	})
}

// markVerificationRead 将某条验证码记录标记为已读。
func (h *Handler) markVerificationRead(c *gin.Context) {
	err := h.verifications.MarkRead(c.Request.Context(), c.Param("address"), c.Param("id"))
	if errors.Is(err, service.ErrMailboxNotFound) {
		NotFound(c, MsgRecordNotFound)
		return
	}
	if err != nil {
		InternalError(c, MsgMarkReadFailed)
		return
	}
	NoContent(c)
}

// deleteMailbox 删除邮箱（远程与本地）。
func (h *Handler) deleteMailbox(c *gin.Context) {
	if err := h.lifecycle.Destroy(c.Request.Context(), c.Param("address")); err != nil {
		InternalError(c, MsgMailboxDeleteFailed)
		return
	}
	NoContent(c)
}

// getStats 返回全局统计快照。
func (h *Handler) getStats(c *gin.Context) {
	snapshot, err := h.verifications.Stats(c.Request.Context())
	if err != nil {
		InternalError(c, MsgStatsGetFailed)
		return
	}

	Success(c, gin.H{
		"totalMailboxes":  snapshot.TotalMailboxes,
		"activeMailboxes": snapshot.ActiveMailboxes,
		"totalCodes":      snapshot.TotalCodes,
		"lastRefreshedAt": snapshot.LastRefreshedAt,
	})
}

// toMailboxResponse 转换实体为响应体。
func toMailboxResponse(mailbox *domain.Mailbox, includeToken bool) mailboxResponse {
	resp := mailboxResponse{
		ID:        mailbox.ID,
		Address:   mailbox.Address,
		LocalPart: mailbox.LocalPart,
		Domain:    mailbox.Domain,
		Status:    string(mailbox.Status),
		CreatedAt: mailbox.CreatedAt,
		ExpiresAt: mailbox.ExpiresAt,
	}
	if includeToken {
		resp.Token = mailbox.Token
	}
	return resp
}

// toVerificationResponse 转换验证码记录为响应体。
func toVerificationResponse(record *domain.VerificationRecord) verificationResponse {
	return verificationResponse{
		ID:          record.ID,
		Code:        record.Code,
		Sender:      record.Sender,
		Subject:     record.Subject,
		ExtractedAt: record.ExtractedAt,
		IsRead:      record.IsRead,
	}
}
