package biz

import (
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/errors"
)

// ErrRecordNotFound is returned when no ledger record matches.
var ErrRecordNotFound = errors.NotFound("INCONSISTENCY_NOT_FOUND", "inconsistency record not found")

// LedgerFilter selects ledger records. Zero fields match everything.
type LedgerFilter struct {
	EntityType string
	Type       InconsistencyType
	Fixed      *bool
	// Limit caps the result; 0 means no cap.
	Limit int
}

func (f LedgerFilter) match(rec *InconsistencyRecord) bool {
	if f.EntityType != "" && rec.EntityType != f.EntityType {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.Fixed != nil && rec.Fixed != *f.Fixed {
		return false
	}
	return true
}

// LedgerStats aggregates the ledger.
type LedgerStats struct {
	Total    int                       `json:"total"`
	Fixed    int                       `json:"fixed"`
	Pending  int                       `json:"pending"`
	ByType   map[InconsistencyType]int `json:"byType"`
	ByEntity map[string]int            `json:"byEntity"`
}

// Ledger holds the inconsistency records of the latest run, in detection order.
type Ledger struct {
	mu      sync.RWMutex
	records []InconsistencyRecord
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds rec.
func (l *Ledger) Append(rec InconsistencyRecord) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
}

// Clear drops every record.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
}

// ClearEntity drops the records of one entity type.
func (l *Ledger) ClearEntity(entityType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	for _, rec := range l.records {
		if rec.EntityType != entityType {
			kept = append(kept, rec)
		}
	}
	// 释放尾部引用
	for i := len(kept); i < len(l.records); i++ {
		l.records[i] = InconsistencyRecord{}
	}
	l.records = kept
}

// Query returns copies of the matching records in detection order.
func (l *Ledger) Query(f LedgerFilter) []InconsistencyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]InconsistencyRecord, 0)
	for i := range l.records {
		if !f.match(&l.records[i]) {
			continue
		}
		out = append(out, l.records[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Find returns the latest record for entityType/entityID.
func (l *Ledger) Find(entityType, entityID string) (InconsistencyRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].EntityType == entityType && l.records[i].EntityID == entityID {
			return l.records[i], true
		}
	}
	return InconsistencyRecord{}, false
}

// Update replaces the latest record with the same entity type and id.
func (l *Ledger) Update(rec InconsistencyRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].EntityType == rec.EntityType && l.records[i].EntityID == rec.EntityID {
			l.records[i] = rec
			return true
		}
	}
	return false
}

// Stats aggregates the current records.
func (l *Ledger) Stats() LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := LedgerStats{
		ByType:   make(map[InconsistencyType]int),
		ByEntity: make(map[string]int),
	}
	for i := range l.records {
		rec := &l.records[i]
		st.Total++
		if rec.Fixed {
			st.Fixed++
		} else {
			st.Pending++
		}
		st.ByType[rec.Type]++
		st.ByEntity[rec.EntityType]++
	}
	return st
}

// Entities returns the entity types present in the ledger, sorted.
func (l *Ledger) Entities() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{})
	for i := range l.records {
		seen[l.records[i].EntityType] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
