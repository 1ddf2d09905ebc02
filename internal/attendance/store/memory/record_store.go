package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

type pair struct {
	key    domain.SessionKey
	person domain.PersonID
}

type codeUse struct {
	code     string
	activity domain.ActivityID
}

// RecordStore is an in-memory attendance ledger for tests and dev. The
// active index plays the role of the database's partial unique index.
type RecordStore struct {
	mu      sync.Mutex
	records map[string]domain.AttendanceRecord
	active  map[pair]string
	codes   map[codeUse]int
}

var _ store.RecordStore = (*RecordStore)(nil)

func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]domain.AttendanceRecord),
		active:  make(map[pair]string),
		codes:   make(map[codeUse]int),
	}
}

func (s *RecordStore) Insert(_ context.Context, rec domain.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := pair{rec.Key, rec.PersonID}
	if _, ok := s.active[p]; ok {
		return store.ErrDuplicate
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records[rec.ID] = rec
	s.active[p] = rec.ID
	if rec.Code != "" {
		s.codes[codeUse{rec.Code, rec.ActivityID}]++
	}
	return nil
}

func (s *RecordStore) FindActive(_ context.Context, key domain.SessionKey, person domain.PersonID) (domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[pair{key, person}]
	if !ok {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	return s.records[id], nil
}

func (s *RecordStore) Get(_ context.Context, id string) (domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *RecordStore) ListByKey(_ context.Context, key domain.SessionKey) ([]domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AttendanceRecord
	for p, id := range s.active {
		if p.key == key {
			out = append(out, s.records[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

func (s *RecordStore) CheckOut(_ context.Context, id, recorderID string, at time.Time) (domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Revoked() {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	if rec.CheckOutAt != nil {
		return rec, store.ErrCheckedOut
	}
	at = at.UTC()
	rec.CheckOutAt = &at
	rec.CheckOutRecorderID = recorderID
	s.records[id] = rec
	return rec, nil
}

func (s *RecordStore) UpdateStatus(_ context.Context, id string, status domain.Status, note string) (domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Revoked() {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	rec.Status = status
	if note != "" {
		rec.Note = note
	}
	s.records[id] = rec
	return rec, nil
}

func (s *RecordStore) Revoke(_ context.Context, id string, at time.Time, note string) (domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Revoked() {
		return domain.AttendanceRecord{}, store.ErrNotFound
	}
	at = at.UTC()
	rec.RevokedAt = &at
	if note != "" {
		rec.Note = note
	}
	s.records[id] = rec
	delete(s.active, pair{rec.Key, rec.PersonID})
	if rec.Code != "" {
		cu := codeUse{rec.Code, rec.ActivityID}
		if s.codes[cu]--; s.codes[cu] <= 0 {
			delete(s.codes, cu)
		}
	}
	return rec, nil
}

func (s *RecordStore) CodeConsumed(_ context.Context, code string, activity domain.ActivityID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[codeUse{code, activity}] > 0, nil
}

// Len returns the number of stored records, revoked included. Test-only helper.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
