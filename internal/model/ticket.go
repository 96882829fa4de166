package model

import (
	"sort"
	"strings"
	"time"
)

// Row 一筆投注：號碼與購買次數
type Row struct {
	Selection string `json:"selection"`
	Times     int    `json:"times"`
}

// Ticket 票券模型
type Ticket struct {
	ID          string    `json:"id" db:"id"`
	EventID     string    `json:"event_id" db:"event_id"`
	ClientName  string    `json:"client_name" db:"client_name"`
	VendorEmail string    `json:"vendor_email" db:"vendor_email"`
	Amount      float64   `json:"amount" db:"amount"`
	Rows        []Row     `json:"rows" db:"rows"`
	Numbers     string    `json:"numbers" db:"numbers"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IsOwnedBy 檢查票券是否屬於該販售員
func (t *Ticket) IsOwnedBy(vendorEmail string) bool {
	return strings.EqualFold(strings.TrimSpace(t.VendorEmail), strings.TrimSpace(vendorEmail))
}

// Consolidate 合併相同號碼的次數，略過次數 <= 0 或不被接受的號碼
func Consolidate(rows []Row, accept func(number string) bool) map[string]int {
	deltas := make(map[string]int)
	for _, row := range rows {
		if row.Times <= 0 {
			continue
		}
		number, ok := NormalizeNumber(row.Selection)
		if !ok {
			continue
		}
		if accept != nil && !accept(number) {
			continue
		}
		deltas[number] += row.Times
	}
	return deltas
}

// Diff 計算 next - prev，只保留非零差額
func Diff(next, prev map[string]int) map[string]int {
	delta := make(map[string]int)
	for number, times := range next {
		if d := times - prev[number]; d != 0 {
			delta[number] = d
		}
	}
	for number, times := range prev {
		if _, ok := next[number]; !ok && times != 0 {
			delta[number] = -times
		}
	}
	return delta
}

// Negate 反轉差額，用於釋放
func Negate(deltas map[string]int) map[string]int {
	out := make(map[string]int, len(deltas))
	for number, times := range deltas {
		out[number] = -times
	}
	return out
}

// SortedNumbers 依號碼排序
func SortedNumbers(deltas map[string]int) []string {
	numbers := make([]string, 0, len(deltas))
	for number := range deltas {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

// NumbersSummary 票券號碼摘要，例如 "07,12,45"
func NumbersSummary(deltas map[string]int) string {
	return strings.Join(SortedNumbers(deltas), ",")
}

// RowsFromDeltas 以合併後的結果重建票券列
func RowsFromDeltas(deltas map[string]int) []Row {
	rows := make([]Row, 0, len(deltas))
	for _, number := range SortedNumbers(deltas) {
		rows = append(rows, Row{Selection: number, Times: deltas[number]})
	}
	return rows
}

// TicketList 販售員的票券列表；Stale 表示來自本地快照
type TicketList struct {
	Tickets []*Ticket `json:"tickets"`
	Stale   bool      `json:"stale"`
}
