package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/storage"
)

// Store 内存存储实现。
//
// 用于单元测试和无数据库的开发模式；语义与 SQL 实现保持一致。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox            // address -> mailbox
	records   map[string][]domain.VerificationRecord // address -> records
}

// NewStore 创建内存存储。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		records:   make(map[string][]domain.VerificationRecord),
	}
}

// Close 无操作。
func (s *Store) Close() error { return nil }

// Health 无操作。
func (s *Store) Health() error { return nil }

// ========== 邮箱 ==========

func (s *Store) SaveMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *mailbox
	s.mailboxes[mailbox.Address] = &clone
	return nil
}

func (s *Store) GetMailboxByAddress(_ context.Context, address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *mailbox
	return &clone, nil
}

func (s *Store) ListMailboxes(_ context.Context) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0, len(s.mailboxes))
	for _, m := range s.mailboxes {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListScannable(_ context.Context, now time.Time, grace time.Duration) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Mailbox
	for _, m := range s.mailboxes {
		if m.Scannable(now, grace) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, address string, from, to domain.MailboxStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[address]
	if !ok || mailbox.Status != from {
		return false, nil
	}
	mailbox.Status = to
	return true, nil
}

func (s *Store) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.mailboxes {
		if m.Status == domain.MailboxActive && !m.ExpiresAt.After(now) {
			m.Status = domain.MailboxExpired
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateLastScannedAt(_ context.Context, address string, scannedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox, ok := s.mailboxes[address]; ok {
		t := scannedAt
		mailbox.LastScannedAt = &t
	}
	return nil
}

func (s *Store) ListCleanupCandidates(_ context.Context, cutoff time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Mailbox
	for _, m := range s.mailboxes {
		// deleted 邮箱的远程资源已回收，不必等到 expires_at 过了宽限期
		if m.Status == domain.MailboxDeleted ||
			(m.Status == domain.MailboxExpired && m.ExpiresAt.Before(cutoff)) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) PurgeMailbox(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mailboxes, address)
	delete(s.records, address)
	return nil
}

// ========== 验证码 ==========

func (s *Store) CreateVerificationIfAbsent(_ context.Context, record *domain.VerificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records[record.MailboxAddress] {
		if existing.SourceMessageID == record.SourceMessageID {
			return false, nil
		}
	}
	s.records[record.MailboxAddress] = append(s.records[record.MailboxAddress], *record)
	return true, nil
}

func (s *Store) LatestVerification(_ context.Context, address string) (*domain.VerificationRecord, error) {
	records, err := s.ListVerifications(context.Background(), address)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return &records[0], nil
}

func (s *Store) ListVerifications(_ context.Context, address string) ([]domain.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.VerificationRecord, len(s.records[address]))
	copy(out, s.records[address])
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExtractedAt.After(out[j].ExtractedAt) })
	return out, nil
}

func (s *Store) MarkVerificationRead(_ context.Context, address, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[address]
	for i := range records {
		if records[i].ID == id {
			records[i].IsRead = true
			return nil
		}
	}
	return storage.ErrNotFound
}

// ========== 统计 ==========

func (s *Store) CountStats(_ context.Context, now time.Time) (*domain.StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.StatsSnapshot{LastRefreshedAt: now}
	snapshot.TotalMailboxes = int64(len(s.mailboxes))
	for _, m := range s.mailboxes {
		if m.Status == domain.MailboxActive && m.ExpiresAt.After(now) {
			snapshot.ActiveMailboxes++
		}
	}
	for _, records := range s.records {
		snapshot.TotalCodes += int64(len(records))
	}
	return snapshot, nil
}
