package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/mailadmin"
	"tempcode/backend/internal/storage/memory"
)

func newLifecycleFixture(t *testing.T) (*LifecycleService, *memory.Store, *MockAdminClient) {
	t.Helper()
	_, cacheStore, _ := testRedis(t)
	store := memory.NewStore()
	admin := new(MockAdminClient)
	svc := NewLifecycleService(store, admin, cacheStore, testConfig(), testMetrics(), zap.NewNop())
	return svc, store, admin
}

func TestProvision_CreatesRemoteAndPersists(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()

	admin.On("CreateMailbox", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	mailbox, err := svc.Provision(ctx, "", 0)
	assert.NoError(t, err)
	assert.Equal(t, "x.test", mailbox.Domain)
	assert.Equal(t, domain.MailboxActive, mailbox.Status)
	assert.NotEmpty(t, mailbox.Token)
	assert.Contains(t, mailbox.Address, "@x.test")
	// TTL 未指定时使用默认值
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), mailbox.ExpiresAt, 5*time.Second)

	persisted, err := store.GetMailboxByAddress(ctx, mailbox.Address)
	assert.NoError(t, err)
	assert.Equal(t, mailbox.Address, persisted.Address)
	admin.AssertExpectations(t)
}

func TestGenerateToken_RandomAndURLSafe(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 256; i++ {
		token, err := generateToken(32)
		assert.NoError(t, err)
		assert.Len(t, token, 32)
		// base64url 字符集，可以直接放进请求头和 URL
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, token)
		seen[token] = struct{}{}
	}
	assert.Len(t, seen, 256)
}

func TestProvision_CredentialsDiffer(t *testing.T) {
	svc, _, admin := newLifecycleFixture(t)
	admin.On("CreateMailbox", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	first, err := svc.Provision(context.Background(), "", 0)
	assert.NoError(t, err)
	second, err := svc.Provision(context.Background(), "", 0)
	assert.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.NotEqual(t, first.Password, second.Password)
	assert.NotEqual(t, first.Token, first.Password)
}

func TestProvision_RejectsUnknownDomain(t *testing.T) {
	svc, _, admin := newLifecycleFixture(t)

	_, err := svc.Provision(context.Background(), "evil.example", time.Hour)
	assert.ErrorIs(t, err, ErrDomainNotAllowed)
	admin.AssertNotCalled(t, "CreateMailbox", mock.Anything, mock.Anything, mock.Anything)
}

func TestProvision_RemoteFailureLeavesNoRecord(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()

	admin.On("CreateMailbox", mock.Anything, mock.Anything, mock.Anything).
		Return(mailadmin.ErrRemoteUnavailable).Once()

	_, err := svc.Provision(ctx, "x.test", time.Hour)
	assert.ErrorIs(t, err, ErrProvisionFailed)

	mailboxes, listErr := store.ListMailboxes(ctx)
	assert.NoError(t, listErr)
	assert.Empty(t, mailboxes)
}

func TestProvision_QuotaExceeded(t *testing.T) {
	svc, _, admin := newLifecycleFixture(t)

	admin.On("CreateMailbox", mock.Anything, mock.Anything, mock.Anything).
		Return(mailadmin.ErrQuotaExceeded).Once()

	_, err := svc.Provision(context.Background(), "", time.Hour)
	assert.ErrorIs(t, err, ErrProvisionFailed)
}

func TestDestroy_Idempotent(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "mb-1", Address: "a@x.test",
		Status: domain.MailboxActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	admin.On("DeleteMailbox", mock.Anything, "a@x.test").Return(nil).Once()

	assert.NoError(t, svc.Destroy(ctx, "a@x.test"))
	mailbox, err := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.Equal(t, domain.MailboxDeleted, mailbox.Status)

	// 第二次调用是无操作，不再触碰远程
	assert.NoError(t, svc.Destroy(ctx, "a@x.test"))
	// 不存在的邮箱同样是无操作
	assert.NoError(t, svc.Destroy(ctx, "ghost@x.test"))
	admin.AssertExpectations(t)
}

func TestDestroy_RemoteFailureKeepsLocalState(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "mb-1", Address: "a@x.test",
		Status: domain.MailboxActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	admin.On("DeleteMailbox", mock.Anything, "a@x.test").
		Return(mailadmin.ErrRemoteUnavailable).Once()

	err := svc.Destroy(ctx, "a@x.test")
	assert.ErrorIs(t, err, mailadmin.ErrRemoteUnavailable)

	// 远程删除失败时本地状态保持不变，留给下次重试
	mailbox, getErr := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, getErr)
	assert.Equal(t, domain.MailboxActive, mailbox.Status)
}

func TestExpireDue_TransitionsOnlyDueMailboxes(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "due", Address: "due@x.test",
		Status: domain.MailboxActive, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute),
	}))
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "fresh", Address: "fresh@x.test",
		Status: domain.MailboxActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	n, err := svc.ExpireDue(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, n)

	due, _ := store.GetMailboxByAddress(ctx, "due@x.test")
	assert.Equal(t, domain.MailboxExpired, due.Status)
	fresh, _ := store.GetMailboxByAddress(ctx, "fresh@x.test")
	assert.Equal(t, domain.MailboxActive, fresh.Status)
}

func TestCleanup_PurgesBeyondGrace(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 超出宽限期的 expired 邮箱：远程回收 + 硬删除
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "old", Address: "old@x.test",
		Status: domain.MailboxExpired, CreatedAt: now.Add(-72 * time.Hour), ExpiresAt: now.Add(-48 * time.Hour),
	}))
	_, err := store.CreateVerificationIfAbsent(ctx, &domain.VerificationRecord{
		ID: "v1", MailboxAddress: "old@x.test", SourceMessageID: "m1",
		Code: "123456", ExtractedAt: now.Add(-50 * time.Hour),
	})
	assert.NoError(t, err)

	// 仍在宽限期内的 expired 邮箱不动
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "recent", Address: "recent@x.test",
		Status: domain.MailboxExpired, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	admin.On("DeleteMailbox", mock.Anything, "old@x.test").Return(nil).Once()

	cleaned, err := svc.Cleanup(ctx, now.Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = store.GetMailboxByAddress(ctx, "old@x.test")
	assert.Error(t, err)
	records, _ := store.ListVerifications(ctx, "old@x.test")
	assert.Empty(t, records)

	_, err = store.GetMailboxByAddress(ctx, "recent@x.test")
	assert.NoError(t, err)
	admin.AssertExpectations(t)
}

func TestCleanup_DestroyedMailboxNeedsNoGrace(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 提前销毁的邮箱还远未到期，但 deleted 状态无需等待宽限期
	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "gone", Address: "gone@x.test",
		Status: domain.MailboxDeleted, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(48 * time.Hour),
	}))

	cleaned, err := svc.Cleanup(ctx, now.Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = store.GetMailboxByAddress(ctx, "gone@x.test")
	assert.Error(t, err)
	// 远程资源在 Destroy 时已回收，清理阶段不再触碰远程
	admin.AssertNotCalled(t, "DeleteMailbox", mock.Anything, mock.Anything)
}

func TestCleanup_RemoteFailureSkipsMailbox(t *testing.T) {
	svc, store, admin := newLifecycleFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	assert.NoError(t, store.SaveMailbox(ctx, &domain.Mailbox{
		ID: "old", Address: "old@x.test",
		Status: domain.MailboxExpired, CreatedAt: now.Add(-72 * time.Hour), ExpiresAt: now.Add(-48 * time.Hour),
	}))

	admin.On("DeleteMailbox", mock.Anything, "old@x.test").
		Return(mailadmin.ErrRemoteUnavailable).Once()

	cleaned, err := svc.Cleanup(ctx, now.Add(-24*time.Hour))
	assert.True(t, errors.Is(err, mailadmin.ErrRemoteUnavailable))
	assert.Equal(t, 0, cleaned)

	// 远程回收失败的邮箱保留本地记录，下轮重试
	_, getErr := store.GetMailboxByAddress(ctx, "old@x.test")
	assert.NoError(t, getErr)
}
