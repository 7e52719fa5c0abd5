package domain

import (
	"time"
)

// VerificationRecord 表示从某封邮件中提取出的验证码。
//
// 每个 (mailbox_address, source_message_id) 组合至多产生一条记录，
// 由存储层的唯一索引和事务内去重保证。除 IsRead 外全部字段不可变。
type VerificationRecord struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxAddress  string    `json:"mailboxAddress" gorm:"type:varchar(255);index;uniqueIndex:idx_mailbox_message,priority:1"`
	SourceMessageID string    `json:"sourceMessageId" gorm:"type:varchar(255);uniqueIndex:idx_mailbox_message,priority:2"`
	Code            string    `json:"code" gorm:"type:varchar(20)"`
	Sender          string    `json:"sender" gorm:"type:varchar(255)"`
	Subject         string    `json:"subject" gorm:"type:text"`
	ExtractedAt     time.Time `json:"extractedAt" gorm:"index"`
	IsRead          bool      `json:"isRead"`
}
