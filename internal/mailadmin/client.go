package mailadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempcode/backend/internal/config"
)

// 针对 ErrRemoteUnavailable 的重试预算：3 次尝试，间隔翻倍。
const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// RemoteMailbox 是远程控制面视角下的一个邮箱账号。
type RemoteMailbox struct {
	Address string `json:"email"`
}

// MessageRef 是一封远程邮件的轻量引用，按到达时间排序。
type MessageRef struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Message 是一封远程邮件的完整内容。
type Message struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Client 封装远程邮件服务器管理 API。
//
// 所有方法在语义层面幂等：创建已存在的邮箱返回成功，删除不存在的
// 邮箱同样返回成功，以容忍调用方的重试。Client 自身无状态。
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
	backoff time.Duration
	log     *zap.Logger
}

// New 创建管理 API 客户端。
func New(cfg *config.AdminAPIConfig, log *zap.Logger) *Client {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// 速率低于 1 req/s 时 int 截断会得到 0 突发容量，令所有请求永远
	// 等待，因此至少保留 1
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		backoff: initialBackoff,
		log:     log,
	}
}

// CreateMailbox 在远程服务器上创建邮箱账号。
//
// 地址已存在（409）视为成功，保证重试安全。
func (c *Client) CreateMailbox(ctx context.Context, address, password string) error {
	payload := map[string]string{
		"email":        address,
		"raw_password": password,
	}

	return c.withRetry(ctx, "create mailbox", func() error {
		status, _, err := c.do(ctx, http.MethodPost, "/user", payload)
		if err != nil {
			return err
		}
		switch {
		case status == http.StatusConflict:
			// 已存在，重试的残留，按成功处理
			c.log.Debug("mailbox already exists on remote", zap.String("address", address))
			return nil
		case status == http.StatusTooManyRequests, status == http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrQuotaExceeded, status)
		default:
			return c.classify(status)
		}
	})
}

// DeleteMailbox 删除远程邮箱账号，目标不存在时为无操作。
func (c *Client) DeleteMailbox(ctx context.Context, address string) error {
	return c.withRetry(ctx, "delete mailbox", func() error {
		status, _, err := c.do(ctx, http.MethodDelete, "/user/"+url.PathEscape(address), nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return nil
		}
		return c.classify(status)
	})
}

// ListMailboxes 列出远程服务器上的全部邮箱账号，供数据同步比对。
func (c *Client) ListMailboxes(ctx context.Context) ([]RemoteMailbox, error) {
	var out []RemoteMailbox
	err := c.withRetry(ctx, "list mailboxes", func() error {
		status, body, err := c.do(ctx, http.MethodGet, "/user", nil)
		if err != nil {
			return err
		}
		if err := c.classify(status); err != nil {
			return err
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages 列出某邮箱自 since 以来到达的邮件引用。
//
// 返回值保证按到达时间升序。
func (c *Client) ListMessages(ctx context.Context, address string, since time.Time) ([]MessageRef, error) {
	endpoint := fmt.Sprintf("/mailbox/%s/messages?since=%s",
		url.PathEscape(address), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	var out []MessageRef
	err := c.withRetry(ctx, "list messages", func() error {
		status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return fmt.Errorf("%w: mailbox %s", ErrNotFound, address)
		}
		if err := c.classify(status); err != nil {
			return err
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchMessage 拉取一封邮件的完整内容。
//
// 失败归类为 ErrNotFound 或 ErrTransientFetch，由扫描管线按消息粒度
// 收集，不在此处重试。
func (c *Client) FetchMessage(ctx context.Context, address string, ref MessageRef) (*Message, error) {
	endpoint := fmt.Sprintf("/mailbox/%s/messages/%s",
		url.PathEscape(address), url.PathEscape(ref.ID))

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, ref.ID)
	case status >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransientFetch, status)
	case status >= 400:
		return nil, fmt.Errorf("fetch message %s: unexpected status %d", ref.ID, status)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", ref.ID, err)
	}
	return &msg, nil
}

// Ping 探测控制面可达性，用于就绪检查。
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return err
	}
	return c.classify(status)
}

// do 执行一次 HTTP 请求，返回状态码与响应体。
func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return resp.StatusCode, body, nil
}

// classify 将状态码映射为错误分类，2xx 返回 nil。
func (c *Client) classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	default:
		return fmt.Errorf("mail admin api: unexpected status %d", status)
	}
}

// withRetry 对 ErrRemoteUnavailable 做有界重试，间隔逐次翻倍。
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := c.backoff

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		c.log.Warn("remote call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return err
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
