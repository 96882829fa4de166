package model

import "time"

// NumberQuota 每個活動、每個號碼的已售數量與上限；Limit 為 nil 表示不限
type NumberQuota struct {
	EventID   string    `json:"event_id" db:"event_id"`
	Number    string    `json:"number" db:"number"`
	Sold      int       `json:"sold" db:"sold"`
	Limit     *int      `json:"limit,omitempty" db:"sold_limit"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Remaining 剩餘可售數量；不限時回傳 -1
func (q *NumberQuota) Remaining() int {
	if q.Limit == nil {
		return -1
	}
	if r := *q.Limit - q.Sold; r > 0 {
		return r
	}
	return 0
}

// QuotaSnapshot 活動的配額快照
type QuotaSnapshot struct {
	EventID string         `json:"event_id"`
	Quotas  []*NumberQuota `json:"quotas"`
}
