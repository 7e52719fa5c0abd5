package domain

import (
	"time"
)

// StatsSnapshot 是从数据库聚合出的统计快照。
//
// 仅作展示用途，缓存副本可能滞后，不得用于任何正确性判断。
type StatsSnapshot struct {
	TotalMailboxes  int64     `json:"totalMailboxes"`
	ActiveMailboxes int64     `json:"activeMailboxes"`
	TotalCodes      int64     `json:"totalCodes"`
	LastRefreshedAt time.Time `json:"lastRefreshedAt"`
}
