package model

import (
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultMinNumber = 0
	DefaultMaxNumber = 99
)

// EventStatus 抽獎活動狀態
type EventStatus string

const (
	EventStatusActive           EventStatus = "active"
	EventStatusClosedAwarded    EventStatus = "closed_awarded"
	EventStatusClosedNotAwarded EventStatus = "closed_not_awarded"
)

// IsValid 驗證狀態是否有效
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusActive, EventStatusClosedAwarded, EventStatusClosedNotAwarded:
		return true
	}
	return false
}

// IsClosed 是否為終止狀態
func (s EventStatus) IsClosed() bool {
	return s == EventStatusClosedAwarded || s == EventStatusClosedNotAwarded
}

// CanTransitionTo 檢查是否可以轉換到目標狀態
func (s EventStatus) CanTransitionTo(target EventStatus) bool {
	transitions := map[EventStatus][]EventStatus{
		EventStatusActive:           {EventStatusClosedAwarded, EventStatusClosedNotAwarded},
		EventStatusClosedAwarded:    {},
		EventStatusClosedNotAwarded: {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == target {
			return true
		}
	}
	return false
}

// AwardNumbers 開獎號碼
type AwardNumbers struct {
	FirstPrize  string    `json:"first_prize"`
	SecondPrize string    `json:"second_prize"`
	ThirdPrize  string    `json:"third_prize"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// Event 抽獎活動 (draw)
type Event struct {
	ID              string        `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	StartDate       string        `json:"start_date" db:"start_date"`
	EndDate         string        `json:"end_date" db:"end_date"`
	StartTime       string        `json:"start_time" db:"start_time"`
	EndTime         string        `json:"end_time" db:"end_time"`
	Active          bool          `json:"active" db:"active"`
	RepeatDaily     bool          `json:"repeat_daily" db:"repeat_daily"`
	Status          EventStatus   `json:"status" db:"status"`
	MinNumber       int           `json:"min_number" db:"min_number"`
	MaxNumber       int           `json:"max_number" db:"max_number"`
	ExcludedNumbers string        `json:"excluded_numbers" db:"excluded_numbers"`
	AwardedNumbers  *AwardNumbers `json:"awarded_numbers,omitempty" db:"-"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// EndsAt 以指定時區組合結束日期與時間
func (e *Event) EndsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, e.EndDate+" "+e.EndTime, loc)
}

// IsExpired 結束時間小於等於 now 即視為過期；無法解析的時間視為過期
func (e *Event) IsExpired(now time.Time, loc *time.Location) bool {
	endsAt, err := e.EndsAt(loc)
	if err != nil {
		return true
	}
	return !endsAt.After(now.In(loc))
}

// AcceptsWrites 活動是否仍可販售
func (e *Event) AcceptsWrites(now time.Time, loc *time.Location) bool {
	return e.Status == EventStatusActive && e.Active && !e.IsExpired(now, loc)
}

// ExcludedSet 解析排除號碼
func (e *Event) ExcludedSet() map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(e.ExcludedNumbers, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	for _, f := range fields {
		if n, ok := NormalizeNumber(f); ok {
			set[n] = struct{}{}
		}
	}
	return set
}

// AcceptsNumber 號碼需在 min/max 範圍內且不在排除清單
func (e *Event) AcceptsNumber(number string) bool {
	n, ok := NormalizeNumber(number)
	if !ok {
		return false
	}
	v, _ := strconv.Atoi(n)
	if v < e.MinNumber || v > e.MaxNumber {
		return false
	}
	_, excluded := e.ExcludedSet()[n]
	return !excluded
}

// NormalizeNumber 將 "7"、" 07 " 轉為 "07"；只接受 00-99
func NormalizeNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 2 {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return "", false
	}
	if v < 10 {
		return "0" + strconv.Itoa(v), true
	}
	return strconv.Itoa(v), true
}

// CreateEventParams 建立活動參數
type CreateEventParams struct {
	Name            string
	StartDate       string
	EndDate         string
	StartTime       string
	EndTime         string
	Active          *bool
	RepeatDaily     bool
	MinNumber       *int
	MaxNumber       *int
	ExcludedNumbers string
}

// UpdateEventParams 可編輯的欄位；Active、MinNumber、MaxNumber 為 nil 時保留原值。
// 狀態與開獎號碼只能透過關閉與開獎改變
type UpdateEventParams struct {
	Name            string
	StartDate       string
	EndDate         string
	StartTime       string
	EndTime         string
	Active          *bool
	RepeatDaily     bool
	MinNumber       *int
	MaxNumber       *int
	ExcludedNumbers string
}

// EventList 活動列表；Stale 表示儲存層不可用時的快照
type EventList struct {
	Events []*Event `json:"events"`
	Stale  bool     `json:"stale"`
}
