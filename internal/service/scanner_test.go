package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/lock"
	"tempcode/backend/internal/mailadmin"
	"tempcode/backend/internal/storage/memory"
)

func newScannerFixture(t *testing.T) (*ScannerService, *memory.Store, *MockAdminClient, *lock.Manager) {
	t.Helper()
	locker, cacheStore, _ := testRedis(t)
	store := memory.NewStore()
	admin := new(MockAdminClient)
	svc := NewScannerService(store, admin, cacheStore, locker,
		testConfig(), testMetrics(), zap.NewNop())
	return svc, store, admin, locker
}

func seedMailbox(t *testing.T, store *memory.Store, address string) *domain.Mailbox {
	t.Helper()
	now := time.Now().UTC()
	mailbox := &domain.Mailbox{
		ID:        "mb-1",
		Address:   address,
		Status:    domain.MailboxActive,
		CreatedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(time.Hour),
	}
	assert.NoError(t, store.SaveMailbox(context.Background(), mailbox))
	return mailbox
}

func TestScanMailbox_ExtractsAndCaches(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	ref := mailadmin.MessageRef{ID: "msg-1", ReceivedAt: time.Now().UTC()}
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{ref}, nil).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", ref).
		Return(&mailadmin.Message{
			ID:      "msg-1",
			Sender:  "noreply@github.com",
			Subject: "Sign-in attempt",
			Body:    "Your code: 482913. It expires in 10 minutes.",
		}, nil).Once()

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))

	record, err := svc.store.LatestVerification(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.Equal(t, "482913", record.Code)
	assert.Equal(t, "msg-1", record.SourceMessageID)

	code, ok, err := svc.cache.GetLatestCode(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "482913", code)

	// 水位已推进，不再回到 CreatedAt
	updated, err := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.NotNil(t, updated.LastScannedAt)
	admin.AssertExpectations(t)
}

func TestScanMailbox_LatestArrivalWinsCache(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	base := time.Now().UTC()
	first := mailadmin.MessageRef{ID: "msg-1", ReceivedAt: base.Add(-2 * time.Minute)}
	second := mailadmin.MessageRef{ID: "msg-2", ReceivedAt: base.Add(-time.Minute)}

	// 列表故意乱序返回，扫描必须按到达时间重排
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{second, first}, nil).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", first).
		Return(&mailadmin.Message{ID: "msg-1", Subject: "code", Body: "验证码: 111111"}, nil).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", second).
		Return(&mailadmin.Message{ID: "msg-2", Subject: "code", Body: "验证码: 222222"}, nil).Once()

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))

	code, ok, err := svc.cache.GetLatestCode(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "222222", code)

	records, err := store.ListVerifications(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestScanMailbox_RescanIsIdempotent(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	ref := mailadmin.MessageRef{ID: "msg-1", ReceivedAt: time.Now().UTC()}
	msg := &mailadmin.Message{ID: "msg-1", Subject: "hi", Body: "code: 654321"}

	// 两个周期列出同一封邮件（模拟水位回退后的重放）
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{ref}, nil).Twice()
	admin.On("FetchMessage", mock.Anything, "a@x.test", ref).Return(msg, nil).Twice()

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))
	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))

	records, err := store.ListVerifications(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestScanMailbox_SkipsWhenLocked(t *testing.T) {
	svc, store, admin, locker := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	// 另一个 worker 持有锁
	token, err := locker.TryAcquire(ctx, lock.ScanKey("a@x.test"), time.Minute)
	assert.NoError(t, err)

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))
	admin.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)

	// 持有者释放后可以正常扫描
	assert.NoError(t, locker.Release(ctx, lock.ScanKey("a@x.test"), token))
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{}, nil).Once()
	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))
	admin.AssertExpectations(t)
}

func TestScanMailbox_AbandonsCycleWhenListingFails(t *testing.T) {
	svc, store, admin, locker := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return(nil, mailadmin.ErrRemoteUnavailable).Once()

	err := svc.ScanMailbox(ctx, "a@x.test")
	assert.ErrorIs(t, err, mailadmin.ErrRemoteUnavailable)

	// 水位未推进
	mailbox, getErr := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, getErr)
	assert.Nil(t, mailbox.LastScannedAt)

	// 锁已释放，可被立即重新抢占
	_, err = locker.TryAcquire(ctx, lock.ScanKey("a@x.test"), time.Minute)
	assert.NoError(t, err)
}

func TestScanMailbox_PartialFailureRollsBackWatermark(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	base := time.Now().UTC().Truncate(time.Second)
	bad := mailadmin.MessageRef{ID: "msg-bad", ReceivedAt: base.Add(-2 * time.Minute)}
	good := mailadmin.MessageRef{ID: "msg-good", ReceivedAt: base.Add(-time.Minute)}

	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{bad, good}, nil).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", bad).
		Return(nil, mailadmin.ErrTransientFetch).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", good).
		Return(&mailadmin.Message{ID: "msg-good", Subject: "hi", Body: "code: 777777"}, nil).Once()

	err := svc.ScanMailbox(ctx, "a@x.test")
	assert.ErrorIs(t, err, mailadmin.ErrTransientFetch)

	// 成功的邮件不受失败邮件影响
	records, listErr := store.ListVerifications(ctx, "a@x.test")
	assert.NoError(t, listErr)
	assert.Len(t, records, 1)
	assert.Equal(t, "777777", records[0].Code)

	// 水位退回到最早失败邮件到达时间之前，无论远程 since 是否含端点，
	// 下个周期都会重新列出它
	mailbox, getErr := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, getErr)
	assert.NotNil(t, mailbox.LastScannedAt)
	assert.True(t, mailbox.LastScannedAt.Before(bad.ReceivedAt))
	assert.True(t, mailbox.LastScannedAt.Equal(bad.ReceivedAt.Add(-time.Nanosecond)))
}

func TestScanMailbox_NoCodeStillAdvancesWatermark(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	ref := mailadmin.MessageRef{ID: "msg-1", ReceivedAt: time.Now().UTC()}
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return([]mailadmin.MessageRef{ref}, nil).Once()
	admin.On("FetchMessage", mock.Anything, "a@x.test", ref).
		Return(&mailadmin.Message{ID: "msg-1", Subject: "newsletter", Body: "nothing numeric here"}, nil).Once()

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))

	records, err := store.ListVerifications(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.Empty(t, records)

	mailbox, err := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.NotNil(t, mailbox.LastScannedAt)
}

func TestScanMailbox_RemoteMissingMailboxIsEmptyList(t *testing.T) {
	svc, store, admin, _ := newScannerFixture(t)
	ctx := context.Background()
	seedMailbox(t, store, "a@x.test")

	// 远程不认识该邮箱时扫描按空列表处理，存在性修正由同步负责
	admin.On("ListMessages", mock.Anything, "a@x.test", mock.Anything).
		Return(nil, mailadmin.ErrNotFound).Once()

	assert.NoError(t, svc.ScanMailbox(ctx, "a@x.test"))

	mailbox, err := store.GetMailboxByAddress(ctx, "a@x.test")
	assert.NoError(t, err)
	assert.NotNil(t, mailbox.LastScannedAt)
}

func TestScanMailbox_UnknownMailbox(t *testing.T) {
	svc, _, _, _ := newScannerFixture(t)
	err := svc.ScanMailbox(context.Background(), "ghost@x.test")
	assert.ErrorIs(t, err, ErrMailboxNotFound)
}
