package domain

import (
	"time"
)

// MailboxStatus 表示邮箱生命周期状态。
type MailboxStatus string

// 邮箱状态机：active -> expired -> deleted。
const (
	MailboxActive  MailboxStatus = "active"
	MailboxExpired MailboxStatus = "expired"
	MailboxDeleted MailboxStatus = "deleted"
)

// Mailbox 表示在远程邮件服务器上开通的临时邮箱。
//
// 数据库是邮箱记录的唯一事实来源；Redis 中的副本仅用于加速读取。
type Mailbox struct {
	ID            string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address       string        `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	LocalPart     string        `json:"localPart" gorm:"type:varchar(255)"`
	Domain        string        `json:"domain" gorm:"type:varchar(100);index"`
	Password      string        `json:"-" gorm:"type:varchar(255)"` // 注册到远程服务器的凭证
	Token         string        `json:"token" gorm:"type:varchar(255);uniqueIndex"`
	Status        MailboxStatus `json:"status" gorm:"type:varchar(16);index"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	LastScannedAt *time.Time    `json:"lastScannedAt,omitempty"`
}

// Scannable 判断邮箱当前是否应参与扫描调度。
//
// expired 状态的邮箱在宽限期内仍可扫描，以便接收迟到的邮件。
func (m *Mailbox) Scannable(now time.Time, grace time.Duration) bool {
	switch m.Status {
	case MailboxActive:
		return true
	case MailboxExpired:
		return now.Before(m.ExpiresAt.Add(grace))
	default:
		return false
	}
}

// ScanSince 返回本次扫描的消息起始水位。
func (m *Mailbox) ScanSince() time.Time {
	if m.LastScannedAt != nil {
		return *m.LastScannedAt
	}
	return m.CreatedAt
}
