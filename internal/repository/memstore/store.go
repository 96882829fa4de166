// Package memstore 以單一 process 內的記憶體實作 repository 介面。
// 每個交易持有整個 store 的鎖，失敗時還原交易開始前的狀態。
package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"numix-engine/internal/clock"
	"numix-engine/internal/model"
	"numix-engine/internal/repository"
	apperrors "numix-engine/pkg/app_errors"
)

var errOffline = errors.New("memstore offline")

type ticketRecord struct {
	ticket *model.Ticket
	seq    uint64
}

type state struct {
	events  map[string]*model.Event
	tickets map[string]ticketRecord
	quotas  map[string]map[string]*model.NumberQuota

	// eventSeq 建立順序，List 依此排序
	eventSeq map[string]uint64
}

func newState() state {
	return state{
		events:   make(map[string]*model.Event),
		eventSeq: make(map[string]uint64),
		tickets:  make(map[string]ticketRecord),
		quotas:   make(map[string]map[string]*model.NumberQuota),
	}
}

func (st state) clone() state {
	out := newState()
	for id, e := range st.events {
		out.events[id] = cloneEvent(e)
		out.eventSeq[id] = st.eventSeq[id]
	}
	for id, rec := range st.tickets {
		out.tickets[id] = ticketRecord{ticket: cloneTicket(rec.ticket), seq: rec.seq}
	}
	for eventID, byNumber := range st.quotas {
		m := make(map[string]*model.NumberQuota, len(byNumber))
		for number, q := range byNumber {
			m[number] = cloneQuota(q)
		}
		out.quotas[eventID] = m
	}
	return out
}

type Store struct {
	mu      sync.Mutex
	clock   clock.Clock
	seq     uint64
	offline atomic.Bool

	st state
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		clock: clk,
		st:    newState(),
	}
}

// SetOffline 模擬儲存層中斷，所有操作回傳 ErrStoreUnavailable
func (s *Store) SetOffline(offline bool) {
	s.offline.Store(offline)
}

func (s *Store) TxManager() repository.TxManager {
	return txManager{s: s}
}

func (s *Store) Events() repository.EventRepository {
	return &eventRepository{s: s}
}

func (s *Store) Tickets() repository.TicketRepository {
	return &ticketRepository{s: s}
}

func (s *Store) Quotas() repository.QuotaRepository {
	return &quotaRepository{s: s}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// enter 交易內不重複上鎖；交易外每個操作各自上鎖
func (s *Store) enter(ctx context.Context, op string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.offline.Load() {
		return nil, apperrors.Unavailable(op, errOffline)
	}
	if s.inTx(ctx) {
		return func() {}, nil
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	unlock, err := s.enter(ctx, "begin tx")
	if err != nil {
		return err
	}
	defer unlock()

	saved := s.st.clone()
	savedSeq := s.seq

	err = fn(context.WithValue(ctx, txKey{}, s))
	if err == nil {
		// commit 前 context 已取消視同 rollback
		err = ctx.Err()
	}
	if err != nil {
		s.st = saved
		s.seq = savedSeq
		return err
	}
	return nil
}

type txManager struct {
	s *Store
}

func (m txManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.s.withTx(ctx, fn)
}

func cloneEvent(e *model.Event) *model.Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.AwardedNumbers != nil {
		award := *e.AwardedNumbers
		out.AwardedNumbers = &award
	}
	return &out
}

func cloneTicket(t *model.Ticket) *model.Ticket {
	if t == nil {
		return nil
	}
	out := *t
	out.Rows = append([]model.Row{}, t.Rows...)
	return &out
}

func cloneQuota(q *model.NumberQuota) *model.NumberQuota {
	if q == nil {
		return nil
	}
	out := *q
	if q.Limit != nil {
		limit := *q.Limit
		out.Limit = &limit
	}
	return &out
}
